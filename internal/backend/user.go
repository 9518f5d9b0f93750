package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/autoapply/internal/state"
)

// User is the profile and plan snapshot returned by GET /api/user/{id}.
type User struct {
	ID               string            `mapstructure:"_id"`
	FirstName        string            `mapstructure:"firstName"`
	LastName         string            `mapstructure:"lastName"`
	Email            string            `mapstructure:"email"`
	PhoneNumber      string            `mapstructure:"phoneNumber"`
	ResumeURL        string            `mapstructure:"resumeUrl"`
	CoverLetterURL   string            `mapstructure:"coverLetterUrl"`
	Address          string            `mapstructure:"address"`
	City             string            `mapstructure:"city"`
	State            string            `mapstructure:"state"`
	ZipCode          string            `mapstructure:"zipCode"`
	Country          string            `mapstructure:"country"`
	LinkedInURL      string            `mapstructure:"linkedinUrl"`
	GitHubURL        string            `mapstructure:"githubUrl"`
	PortfolioURL     string            `mapstructure:"portfolioUrl"`
	CurrentCompany   string            `mapstructure:"currentCompany"`
	CurrentTitle     string            `mapstructure:"currentTitle"`
	JobPreferences   state.Preferences `mapstructure:"jobPreferences"`
	Credits          int               `mapstructure:"credits"`
	ApplicationsUsed int               `mapstructure:"applicationsUsed"`
	Plan             string            `mapstructure:"plan"`
	Subscription     Subscription      `mapstructure:"subscription"`
}

// Subscription is the billing state attached to a user.
type Subscription struct {
	Status    string `mapstructure:"status"`
	ExpiresAt string `mapstructure:"expiresAt"`
	EndDate   string `mapstructure:"endDate"`
}

// Role is the plan-limit refresh returned by GET /api/user/{id}/role.
type Role struct {
	UserRole         string `json:"userRole"`
	ApplicationLimit int    `json:"applicationLimit"`
	ApplicationsUsed int    `json:"applicationsUsed"`
}

// GetUser fetches the profile and plan of userID.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/user/"+url.PathEscape(userID), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}

	// some deployments wrap the document as {"user": {...}}
	if inner, ok := raw["user"].(map[string]any); ok {
		raw = inner
	}

	user, err := decodeUser(raw)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if user.ID == "" {
		user.ID = userID
	}

	return user, nil
}

// GetRole fetches the current plan limits of userID.
func (c *Client) GetRole(ctx context.Context, userID string) (*Role, error) {
	var role Role
	if err := c.do(ctx, http.MethodGet, "/api/user/"+url.PathEscape(userID)+"/role", nil, nil, &role); err != nil {
		return nil, fmt.Errorf("get role of %s: %w", userID, err)
	}
	return &role, nil
}

func decodeUser(raw map[string]any) (*User, error) {
	var user User
	cfg := &mapstructure.DecoderConfig{
		Result:           &user,
		WeaklyTypedInput: true,
		DecodeHook:       yesNoHook,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// yesNoHook lets profile forms store booleans as "yes"/"no".
func yesNoHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	switch strings.ToLower(strings.TrimSpace(data.(string))) {
	case "yes", "y", "true", "1", "on":
		return true, nil
	case "", "no", "n", "false", "0", "off":
		return false, nil
	default:
		return data, nil
	}
}

// Profile converts the user into the run's profile snapshot.
func (u *User) Profile() state.Profile {
	return state.Profile{
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Email:          u.Email,
		Phone:          u.PhoneNumber,
		ResumeURL:      u.ResumeURL,
		CoverLetterURL: u.CoverLetterURL,
		Address:        u.Address,
		City:           u.City,
		State:          u.State,
		Zip:            u.ZipCode,
		Country:        u.Country,
		LinkedIn:       u.LinkedInURL,
		GitHub:         u.GitHubURL,
		Portfolio:      u.PortfolioURL,
		CurrentCompany: u.CurrentCompany,
		CurrentTitle:   u.CurrentTitle,
		Preferences:    u.JobPreferences,
	}
}

// PlanState converts the user's plan fields. A non-nil role overrides the
// plan type, the backend limit and the usage counter.
func (u *User) PlanState(role *Role) state.Plan {
	plan := state.Plan{
		Type:             state.ParsePlanType(u.Plan),
		ApplicationsUsed: u.ApplicationsUsed,
		AvailableCredits: u.Credits,
	}
	if role != nil {
		if role.UserRole != "" {
			plan.Type = state.ParsePlanType(role.UserRole)
		}
		plan.ApplicationLimit = role.ApplicationLimit
		plan.ApplicationsUsed = max(plan.ApplicationsUsed, role.ApplicationsUsed)
	}
	return plan
}

// SubscriptionExpiry returns the parsed subscription end, if any.
func (u *User) SubscriptionExpiry() *time.Time {
	for _, raw := range []string{u.Subscription.ExpiresAt, u.Subscription.EndDate} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return &parsed
			}
		}
	}
	return nil
}
