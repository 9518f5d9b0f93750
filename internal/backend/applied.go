package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// AppliedJob is the body of POST /api/applied-jobs.
type AppliedJob struct {
	UserID    string    `json:"userId"`
	JobID     string    `json:"jobId"`
	Title     string    `json:"title"`
	Company   string    `json:"company"`
	Location  string    `json:"location"`
	JobURL    string    `json:"jobUrl"`
	Platform  string    `json:"platform"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	AppliedAt time.Time `json:"appliedAt"`
}

type appliedResponse struct {
	Applied bool `json:"applied"`
}

// LogAppliedJob records an application outcome.
func (c *Client) LogAppliedJob(ctx context.Context, job AppliedJob) error {
	if err := c.do(ctx, http.MethodPost, "/api/applied-jobs", nil, job, nil); err != nil {
		return fmt.Errorf("log applied job %s: %w", job.JobID, err)
	}
	return nil
}

// IncrementApplications reports the user's new usage counter.
func (c *Client) IncrementApplications(ctx context.Context, userID string, applicationsUsed int) error {
	body := map[string]any{
		"userId":           userID,
		"applicationsUsed": applicationsUsed,
	}
	if err := c.do(ctx, http.MethodPost, "/api/applications", nil, body, nil); err != nil {
		return fmt.Errorf("increment applications of %s: %w", userID, err)
	}
	return nil
}

// IsApplied reports whether userID already applied to jobID in any previous run.
func (c *Client) IsApplied(ctx context.Context, userID, jobID string) (bool, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("jobId", jobID)

	var resp appliedResponse
	if err := c.do(ctx, http.MethodGet, "/api/applied-jobs", q, nil, &resp); err != nil {
		return false, fmt.Errorf("check applied job %s: %w", jobID, err)
	}
	return resp.Applied, nil
}
