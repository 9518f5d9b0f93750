package state

import (
	"strings"
	"time"
)

// PlanType is the subscription tier of the user a run applies for.
type PlanType string

const (
	PlanFree      PlanType = "free"
	PlanCredit    PlanType = "credit"
	PlanPro       PlanType = "pro"
	PlanUnlimited PlanType = "unlimited"
)

// ParsePlanType normalizes a backend role string. Unknown values are kept and fail quota checks.
func ParsePlanType(raw string) PlanType {
	return PlanType(strings.ToLower(strings.TrimSpace(raw)))
}

// Plan carries the quota counters of the run's user.
type Plan struct {
	Type             PlanType `json:"type"`
	ApplicationsUsed int      `json:"applicationsUsed"`
	AvailableCredits int      `json:"availableCredits"`
	// ApplicationLimit is the backend-provided cap; zero means the configured default applies.
	ApplicationLimit int `json:"applicationLimit"`
}

// UsageLimited reports whether completed applications count against the plan.
func (p Plan) UsageLimited() bool {
	return p.Type != PlanUnlimited
}

// JobRef identifies one job posting discovered on a results page.
type JobRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	URL      string `json:"url"`
}

// Outcome is the logged result of processing one job.
type Outcome string

const (
	// OutcomeCompleted marks a submitted application.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed marks an application that was started but not submitted.
	OutcomeFailed Outcome = "failed"

	OutcomeViewed         Outcome = "viewed"
	OutcomeNoApply        Outcome = "no_apply"
	OutcomeExternal       Outcome = "external"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeFiltered       Outcome = "filtered"
	OutcomeStuck          Outcome = "stuck"
)

// Terminal reports whether the outcome belongs in the applications log.
func (o Outcome) Terminal() bool {
	return o == OutcomeCompleted || o == OutcomeFailed
}

// LogEntry is one row of the viewed or applications log.
type LogEntry struct {
	Job    JobRef    `json:"job"`
	Status Outcome   `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Preferences holds the job preferences part of a profile. Yes/no answers are
// pointers so an unset preference can fall back to a canned answer.
type Preferences struct {
	DesiredSalary       string   `json:"desiredSalary,omitempty" mapstructure:"desiredSalary"`
	SalaryCurrency      string   `json:"salaryCurrency,omitempty" mapstructure:"salaryCurrency"`
	NoticePeriod        string   `json:"noticePeriod,omitempty" mapstructure:"noticePeriod"`
	StartDate           string   `json:"startDate,omitempty" mapstructure:"startDate"`
	WillingToRelocate   *bool    `json:"willingToRelocate,omitempty" mapstructure:"willingToRelocate"`
	RemoteWork          *bool    `json:"remoteWork,omitempty" mapstructure:"remoteWork"`
	AuthorizedToWork    *bool    `json:"authorizedToWork,omitempty" mapstructure:"authorizedToWork"`
	RequiresSponsorship *bool    `json:"requiresSponsorship,omitempty" mapstructure:"requiresSponsorship"`
	YearsOfExperience   string   `json:"yearsOfExperience,omitempty" mapstructure:"yearsOfExperience"`
	Keywords            []string `json:"keywords,omitempty" mapstructure:"keywords"`
	Location            string   `json:"location,omitempty" mapstructure:"location"`
}

// Profile is the user snapshot fetched when a run is initialized.
type Profile struct {
	FirstName      string      `json:"firstName"`
	LastName       string      `json:"lastName"`
	Email          string      `json:"email"`
	Phone          string      `json:"phoneNumber"`
	ResumeURL      string      `json:"resumeUrl,omitempty"`
	CoverLetterURL string      `json:"coverLetterUrl,omitempty"`
	Address        string      `json:"address,omitempty"`
	City           string      `json:"city,omitempty"`
	State          string      `json:"state,omitempty"`
	Zip            string      `json:"zipCode,omitempty"`
	Country        string      `json:"country,omitempty"`
	LinkedIn       string      `json:"linkedinUrl,omitempty"`
	GitHub         string      `json:"githubUrl,omitempty"`
	Portfolio      string      `json:"portfolioUrl,omitempty"`
	CurrentCompany string      `json:"currentCompany,omitempty"`
	CurrentTitle   string      `json:"currentTitle,omitempty"`
	Preferences    Preferences `json:"jobPreferences"`
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// RunStatus is the controller state persisted with the run.
type RunStatus string

const (
	StatusIdle         RunStatus = "idle"
	StatusInitializing RunStatus = "initializing"
	StatusSearching    RunStatus = "searching"
	StatusOpeningJob   RunStatus = "opening_job"
	StatusFillingForm  RunStatus = "filling_form"
	StatusLogging      RunStatus = "logging"
	StatusPaginating   RunStatus = "paginating"
	StatusCompleted    RunStatus = "completed"
	StatusStopped      RunStatus = "stopped"
	StatusLimitReached RunStatus = "limit_reached"
	StatusFailed       RunStatus = "failed"
)

// Finished reports whether the status ends a run.
func (s RunStatus) Finished() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusLimitReached, StatusFailed:
		return true
	default:
		return false
	}
}
