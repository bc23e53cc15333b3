package model

import (
	"time"

	"tomgalvin.uk/luckprint/internal/history"
	"tomgalvin.uk/luckprint/internal/printer"
)

type PrintRequest struct {
	Text      string `json:"text"`
	ImagePath string `json:"image_path"`
	// Hold the response until the job has been sent to the printer
	Wait bool `json:"wait"`
}

type PrintResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type StatusResponse struct {
	Link       string `json:"link"`
	QueueDepth int    `json:"queue_depth"`
	WireFormat string `json:"wire_format"`
}

type JobResponse struct {
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	Content     string    `json:"content"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func FromResult(r printer.Result) PrintResponse {
	resp := PrintResponse{
		JobID:  r.JobID.String(),
		Status: r.Outcome.String(),
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

func FromEntry(e history.Entry) JobResponse {
	return JobResponse{
		JobID:       e.JobID.String(),
		Kind:        e.Kind,
		Content:     e.Content,
		Outcome:     e.Outcome,
		Error:       e.Error,
		SubmittedAt: e.SubmittedAt,
		FinishedAt:  e.FinishedAt,
	}
}
