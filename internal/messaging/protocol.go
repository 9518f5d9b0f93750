// Package messaging exposes the run controller over a request/response
// message protocol and streams run events to listeners.
package messaging

import (
	"github.com/spigell/autoapply/internal/state"
)

// Type names a request message.
type Type string

const (
	TypeStartJobSearch      Type = "startJobSearch"
	TypeProcessJobs         Type = "processJobs"
	TypeFillApplicationForm Type = "fillApplicationForm"
	TypeStop                Type = "stop"
)

// Response statuses.
const (
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusStopped    = "stopped"
	StatusError      = "error"
)

// Request is one inbound message. Delivery is at-least-once: senders may
// repeat a request with the same ID and get the first response back.
type Request struct {
	ID          string        `json:"id,omitempty"`
	Type        Type          `json:"type"`
	UserID      string        `json:"userId,omitempty"`
	JobsToApply int           `json:"jobsToApply,omitempty"`
	JobData     *state.JobRef `json:"jobData,omitempty"`
	// Wait makes processJobs block until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

// Response answers a Request.
type Response struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func errorResponse(err error) Response {
	return Response{Status: StatusError, Message: err.Error(), Error: err.Error()}
}
