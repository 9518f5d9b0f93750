package backend

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/state"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{URL: srv.URL + "/", AIRatePerMinute: 6000}, "secret-token", zap.NewNop())
}

func TestGetUserDecodesProfileAndPlan(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/u-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("unexpected authorization header %q", got)
		}

		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		_, _ = gz.Write([]byte(`{
			"firstName": "Ada",
			"lastName": "Lovelace",
			"email": "ada@example.com",
			"phoneNumber": "+44 20 0000",
			"resumeUrl": "https://files.example.com/cv.pdf",
			"credits": "3",
			"applicationsUsed": 2,
			"plan": "Credit",
			"subscription": {"status": "active", "expiresAt": "2030-01-02T03:04:05Z"},
			"jobPreferences": {"willingToRelocate": "yes", "desiredSalary": "90000", "keywords": ["go", "backend"]}
		}`))
	})

	user, err := client.GetUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	profile := user.Profile()
	if profile.FullName() != "Ada Lovelace" || profile.Phone != "+44 20 0000" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if r := profile.Preferences.WillingToRelocate; r == nil || !*r || profile.Preferences.DesiredSalary != "90000" {
		t.Fatalf("unexpected preferences: %+v", profile.Preferences)
	}
	if len(profile.Preferences.Keywords) != 2 {
		t.Fatalf("expected keywords to decode, got %v", profile.Preferences.Keywords)
	}

	plan := user.PlanState(nil)
	if plan.Type != state.PlanCredit || plan.AvailableCredits != 3 || plan.ApplicationsUsed != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	expiry := user.SubscriptionExpiry()
	if expiry == nil || !expiry.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected expiry: %v", expiry)
	}
	if user.ID != "u-1" {
		t.Fatalf("expected id fallback, got %q", user.ID)
	}
}

func TestPlanStateRoleOverride(t *testing.T) {
	user := &User{Plan: "free", ApplicationsUsed: 1}

	plan := user.PlanState(&Role{UserRole: "pro", ApplicationLimit: 150, ApplicationsUsed: 4})
	if plan.Type != state.PlanPro || plan.ApplicationLimit != 150 || plan.ApplicationsUsed != 4 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestGetUserNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	})

	_, err := client.GetUser(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected StatusError, got %v", err)
	}
}

func TestAnswerServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Answer(context.Background(), ai.Question{Label: "Salary", Options: []string{"a"}})
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("500 must not match ErrNotFound")
	}
}

func TestAnswerSendsQuestion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["question"] != "Do you need sponsorship?" {
			t.Errorf("unexpected question %v", body["question"])
		}
		if _, ok := body["userData"].(map[string]any); !ok {
			t.Errorf("expected userData object, got %T", body["userData"])
		}
		_, _ = w.Write([]byte(`{"answer": "no"}`))
	})

	answer, err := client.Answer(context.Background(), ai.Question{
		Label:   "Do you need sponsorship?",
		Options: []string{"Yes", "No"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "No" {
		t.Fatalf("expected snapped answer No, got %q", answer)
	}
}

func TestAppliedJobsEndpoints(t *testing.T) {
	var logged AppliedJob
	var increment map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/applied-jobs":
			applied := r.URL.Query().Get("jobId") == "seen"
			if r.URL.Query().Get("userId") != "u-1" {
				t.Errorf("missing userId query")
			}
			_ = json.NewEncoder(w).Encode(map[string]bool{"applied": applied})
		case r.Method == http.MethodPost && r.URL.Path == "/api/applied-jobs":
			_ = json.NewDecoder(r.Body).Decode(&logged)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/api/applications":
			_ = json.NewDecoder(r.Body).Decode(&increment)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	ctx := context.Background()

	applied, err := client.IsApplied(ctx, "u-1", "seen")
	if err != nil || !applied {
		t.Fatalf("expected applied=true, got %v, %v", applied, err)
	}
	applied, err = client.IsApplied(ctx, "u-1", "fresh")
	if err != nil || applied {
		t.Fatalf("expected applied=false, got %v, %v", applied, err)
	}

	if err := client.LogAppliedJob(ctx, AppliedJob{UserID: "u-1", JobID: "42", Title: "Go Engineer", Status: "completed"}); err != nil {
		t.Fatalf("log applied job: %v", err)
	}
	if logged.JobID != "42" || logged.Status != "completed" {
		t.Fatalf("unexpected logged body: %+v", logged)
	}

	if err := client.IncrementApplications(ctx, "u-1", 7); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if increment["applicationsUsed"] != float64(7) {
		t.Fatalf("unexpected increment body: %v", increment)
	}
}
