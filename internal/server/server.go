package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tomgalvin.uk/luckprint/internal/bitmap"
	"tomgalvin.uk/luckprint/internal/history"
	"tomgalvin.uk/luckprint/internal/model"
	"tomgalvin.uk/luckprint/internal/printer"
)

// The parts of printer.Queue the HTTP layer uses
type JobQueue interface {
	Submit(j *printer.Job) bool
	SubmitAndWait(ctx context.Context, j *printer.Job) (printer.Result, error)
	Health() printer.LinkHealth
	Len() int
}

type JobHistory interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type Server struct {
	logger     *slog.Logger
	queue      JobQueue
	history    JobHistory
	wireFormat bitmap.WireFormat
	// GitHub webhook secret, empty to accept unsigned deliveries
	secret string
	// root for image_path requests, empty to refuse them
	imageDir string
	now      func() time.Time
}

// history may be nil when the history log is disabled
func NewServer(logger *slog.Logger, queue JobQueue, history JobHistory, wireFormat bitmap.WireFormat, secret, imageDir string) *Server {
	return &Server{
		logger:     logger,
		queue:      queue,
		history:    history,
		wireFormat: wireFormat,
		secret:     secret,
		imageDir:   imageDir,
		now:        time.Now,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Ok")
	})

	api := r.Group("/api")
	api.POST("/print", s.Print)
	api.POST("/github-webhooks", s.GithubWebhook)
	api.GET("/status", s.Status)
	api.GET("/jobs", s.Jobs)

	return r
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote", c.ClientIP(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

func (s *Server) Print(c *gin.Context) {
	var req model.PrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}
	if (req.Text == "") == (req.ImagePath == "") {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "validation_error",
			Message: "Exactly one of text and image_path must be set",
		})
		return
	}

	var job *printer.Job
	if req.Text != "" {
		job = printer.NewTextJob(req.Text)
	} else {
		path, err := s.resolveImage(req.ImagePath)
		if err != nil {
			c.JSON(http.StatusForbidden, model.ErrorResponse{
				Error:   "image_not_allowed",
				Message: err.Error(),
			})
			return
		}
		job = printer.NewImageJob(path)
	}

	if req.Wait {
		r, err := s.queue.SubmitAndWait(c.Request.Context(), job)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
				Error:   "timeout",
				Message: err.Error(),
			})
			return
		}
		s.respondWithResult(c, r, http.StatusOK)
		return
	}

	s.submit(c, job, http.StatusAccepted)
}

var (
	errImagesDisabled  = errors.New("Printing images over HTTP is disabled")
	errOutsideImageDir = errors.New("Image is outside the image directory")
)

// Resolves an image path against imageDir, following symlinks, and refuses
// anything that ends up outside it
func (s *Server) resolveImage(p string) (string, error) {
	if s.imageDir == "" {
		return "", errImagesDisabled
	}
	root, err := filepath.EvalSymlinks(s.imageDir)
	if err != nil {
		return "", err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", err
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideImageDir
	}
	return resolved, nil
}

// Queues the job without waiting for it to print. A rejected job has its
// result ready on Done as soon as Submit returns.
func (s *Server) submit(c *gin.Context, job *printer.Job, okStatus int) {
	if !s.queue.Submit(job) {
		s.respondWithResult(c, <-job.Done, okStatus)
		return
	}
	c.JSON(okStatus, model.PrintResponse{
		JobID:  job.ID.String(),
		Status: "queued",
	})
}

func (s *Server) respondWithResult(c *gin.Context, r printer.Result, okStatus int) {
	status := okStatus
	if !r.Accepted() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, model.FromResult(r))
}

func (s *Server) Status(c *gin.Context) {
	c.JSON(http.StatusOK, model.StatusResponse{
		Link:       s.queue.Health().String(),
		QueueDepth: s.queue.Len(),
		WireFormat: s.wireFormat.String(),
	})
}

func (s *Server) Jobs(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Error:   "history_disabled",
			Message: "The job history log is turned off",
		})
		return
	}

	limit := defaultJobLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxJobLimit {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be between 1 and " + strconv.Itoa(maxJobLimit),
			})
			return
		}
		limit = n
	}

	entries, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Couldn't list job history", "err", err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve jobs",
		})
		return
	}

	jobs := make([]model.JobResponse, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, model.FromEntry(e))
	}
	c.JSON(http.StatusOK, jobs)
}
