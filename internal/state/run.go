package state

import (
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever the persisted RunState layout changes incompatibly.
const SchemaVersion = 1

var (
	// ErrNoCurrentJob is returned when an operation needs a current job but the queue is exhausted.
	ErrNoCurrentJob = errors.New("no current job")
	// ErrDuplicateApplication is returned when a job already has a terminal applications entry.
	ErrDuplicateApplication = errors.New("job already logged as application")
)

// RunState is the persisted state of one automation run.
type RunState struct {
	SchemaVersion int `json:"schemaVersion"`
	// Version is the optimistic write counter maintained by Store.Save.
	Version int64 `json:"version"`

	RunID   string  `json:"runId"`
	UserID  string  `json:"userId"`
	Site    string  `json:"site"`
	Profile Profile `json:"profile"`
	Plan    Plan    `json:"plan"`

	SubscriptionExpiry *time.Time `json:"subscriptionExpiry,omitempty"`

	JobQueue           []JobRef `json:"jobQueue"`
	QueueGeneration    int      `json:"queueGeneration"`
	CurrentJobIndex    int      `json:"currentJobIndex"`
	PendingApplication bool     `json:"pendingApplication"`

	IsRunning      bool      `json:"isRunning"`
	Status         RunStatus `json:"status"`
	Message        string    `json:"message,omitempty"`
	LastActionTime time.Time `json:"lastActionTime"`
	StartedAt      time.Time `json:"startedAt"`

	ViewedJobs   []LogEntry `json:"viewedJobs"`
	Applications []LogEntry `json:"applications"`

	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`

	JobsToApply        int `json:"jobsToApply"`
	WatchdogRecoveries int `json:"watchdogRecoveries"`
}

// New seeds a fresh run.
func New(runID, userID, site string, now time.Time) *RunState {
	return &RunState{
		SchemaVersion:  SchemaVersion,
		RunID:          runID,
		UserID:         userID,
		Site:           site,
		Status:         StatusIdle,
		CurrentPage:    1,
		LastActionTime: now,
		StartedAt:      now,
	}
}

// Touch records a state change for the watchdog.
func (s *RunState) Touch(now time.Time) {
	s.LastActionTime = now
}

// SetStatus moves the run to a new controller state.
func (s *RunState) SetStatus(status RunStatus, message string, now time.Time) {
	s.Status = status
	s.Message = message
	if status.Finished() {
		s.IsRunning = false
		s.PendingApplication = false
	}
	s.Touch(now)
}

// AdoptQueue replaces the queue with a freshly enumerated page of jobs.
// The cursor restarts at zero only here.
func (s *RunState) AdoptQueue(jobs []JobRef, now time.Time) {
	s.JobQueue = append([]JobRef(nil), jobs...)
	s.CurrentJobIndex = 0
	s.QueueGeneration++
	s.PendingApplication = false
	s.Touch(now)
}

// Current returns the job under the cursor.
func (s *RunState) Current() (JobRef, bool) {
	if s.CurrentJobIndex < 0 || s.CurrentJobIndex >= len(s.JobQueue) {
		return JobRef{}, false
	}
	return s.JobQueue[s.CurrentJobIndex], true
}

// Remaining returns the number of queued jobs after the cursor, including the current one.
func (s *RunState) Remaining() int {
	if s.CurrentJobIndex >= len(s.JobQueue) {
		return 0
	}
	return len(s.JobQueue) - s.CurrentJobIndex
}

// Advance moves the cursor past the current job. It never moves backwards
// and never goes past the end of the queue.
func (s *RunState) Advance(now time.Time) {
	if s.CurrentJobIndex < len(s.JobQueue) {
		s.CurrentJobIndex++
	}
	s.PendingApplication = false
	s.Touch(now)
}

// BeginApplication marks the current job's application form as open.
func (s *RunState) BeginApplication(now time.Time) error {
	if _, ok := s.Current(); !ok {
		return ErrNoCurrentJob
	}
	s.PendingApplication = true
	s.Touch(now)
	return nil
}

// EndApplication clears the pending flag once the form is submitted or abandoned.
func (s *RunState) EndApplication(now time.Time) {
	s.PendingApplication = false
	s.Touch(now)
}

// LogApplication appends a terminal outcome for job. Completed outcomes consume
// one unit of quota on usage-limited plans and one credit on credit plans.
func (s *RunState) LogApplication(job JobRef, outcome Outcome, reason string, now time.Time) error {
	if !outcome.Terminal() {
		return fmt.Errorf("outcome %q is not an application outcome", outcome)
	}
	if s.Applied(job.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateApplication, job.ID)
	}

	s.Applications = append(s.Applications, LogEntry{Job: job, Status: outcome, Reason: reason, At: now})
	if outcome == OutcomeCompleted && s.Plan.UsageLimited() {
		s.Plan.ApplicationsUsed++
		if s.Plan.Type == PlanCredit && s.Plan.AvailableCredits > 0 {
			s.Plan.AvailableCredits--
		}
	}
	s.Touch(now)
	return nil
}

// LogViewed appends a job that was opened or skipped without an application outcome.
func (s *RunState) LogViewed(job JobRef, outcome Outcome, reason string, now time.Time) {
	s.ViewedJobs = append(s.ViewedJobs, LogEntry{Job: job, Status: outcome, Reason: reason, At: now})
	s.Touch(now)
}

// Applied reports whether job id already has an applications entry.
func (s *RunState) Applied(jobID string) bool {
	for _, entry := range s.Applications {
		if entry.Job.ID == jobID {
			return true
		}
	}
	return false
}

// Seen reports whether job id appears in either log.
func (s *RunState) Seen(jobID string) bool {
	if s.Applied(jobID) {
		return true
	}
	for _, entry := range s.ViewedJobs {
		if entry.Job.ID == jobID {
			return true
		}
	}
	return false
}

// Completed counts submitted applications in this run.
func (s *RunState) Completed() int {
	count := 0
	for _, entry := range s.Applications {
		if entry.Status == OutcomeCompleted {
			count++
		}
	}
	return count
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	out := *s
	out.JobQueue = append([]JobRef(nil), s.JobQueue...)
	out.ViewedJobs = append([]LogEntry(nil), s.ViewedJobs...)
	out.Applications = append([]LogEntry(nil), s.Applications...)
	out.Profile.Preferences.Keywords = append([]string(nil), s.Profile.Preferences.Keywords...)
	if s.SubscriptionExpiry != nil {
		expiry := *s.SubscriptionExpiry
		out.SubscriptionExpiry = &expiry
	}
	return &out
}
