package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tomgalvin.uk/luckprint/internal/model"
	"tomgalvin.uk/luckprint/internal/printer"
)

const (
	eventHeader     = "X-GitHub-Event"
	signatureHeader = "X-Hub-Signature-256"

	maxIssueBodyRunes = 60
	timestampLayout   = "2006-01-02 15:04:05"
)

// markdown links and images
var linkPattern = regexp.MustCompile(`!?\[.*?]\(.*?\)`)

var (
	errUnhandledEvent = errors.New("unhandled event")
	errMissingField   = errors.New("payload is missing a field")
)

type githubWebhook struct {
	Zen        string           `json:"zen"`
	Action     string           `json:"action"`
	Issue      *githubIssue     `json:"issue"`
	Comment    *githubComment   `json:"comment"`
	Repository githubRepository `json:"repository"`
}

type githubRepository struct {
	FullName string `json:"full_name"`
}

type githubIssue struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type githubComment struct {
	Body string      `json:"body"`
	User *githubUser `json:"user"`
}

type githubUser struct {
	Login string `json:"login"`
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Text printed for a webhook delivery. ok is false for actions that are
// acknowledged without printing anything.
func webhookText(event string, hook *githubWebhook, now time.Time) (text string, ok bool, err error) {
	timestamp := now.UTC().Format(timestampLayout)
	repo := hook.Repository.FullName

	switch event {
	case "issues":
		if hook.Action != "opened" {
			return "", false, nil
		}
		if hook.Issue == nil {
			return "", false, fmt.Errorf("%w: issue", errMissingField)
		}
		body := linkPattern.ReplaceAllString(strings.TrimSpace(hook.Issue.Body), "")
		return fmt.Sprintf("%s\nREPO: %s\nNEW ISSUE!\nISSUE Title: %s\nContent:\n %s",
			timestamp, repo, hook.Issue.Title, truncateRunes(body, maxIssueBodyRunes)), true, nil

	case "issue_comment":
		if hook.Action != "created" {
			return "", false, nil
		}
		if hook.Issue == nil || hook.Comment == nil || hook.Comment.User == nil {
			return "", false, fmt.Errorf("%w: issue or comment", errMissingField)
		}
		return fmt.Sprintf("%s\nREPO: %s\nISSUE: %s\n%s just left a comment",
			timestamp, repo, hook.Issue.Title, hook.Comment.User.Login), true, nil

	case "ping":
		return fmt.Sprintf("%s\nREPO: %s\n%s\n ---- SETUP DONE --- ",
			timestamp, repo, hook.Zen), true, nil
	}

	return "", false, fmt.Errorf("%w: %q", errUnhandledEvent, event)
}

func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (s *Server) GithubWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "read_error",
			Message: "Failed to read request body",
		})
		return
	}

	if s.secret != "" && !validSignature(s.secret, body, c.GetHeader(signatureHeader)) {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{
			Error:   "invalid_signature",
			Message: "Webhook signature doesn't match",
		})
		return
	}

	var hook githubWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	event := c.GetHeader(eventHeader)
	text, ok, err := webhookText(event, &hook, s.now())
	if err != nil {
		s.logger.Error("Couldn't handle webhook", "event", event, "err", err)
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "unhandled_event",
			Message: err.Error(),
		})
		return
	}
	if !ok {
		s.logger.Debug("Ignoring webhook", "event", event, "action", hook.Action)
		c.Status(http.StatusOK)
		return
	}

	s.submit(c, printer.NewTextJob(text), http.StatusOK)
}
