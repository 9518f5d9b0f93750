package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/state"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func TestCanApplyMore(t *testing.T) {
	past := now.Add(-time.Minute)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name   string
		plan   state.Plan
		expiry *time.Time
		want   bool
	}{
		{name: "unlimited", plan: state.Plan{Type: state.PlanUnlimited, ApplicationsUsed: 10_000}, want: true},
		{name: "free under limit", plan: state.Plan{Type: state.PlanFree, ApplicationsUsed: 4}, want: true},
		{name: "free at limit", plan: state.Plan{Type: state.PlanFree, ApplicationsUsed: 5}, want: false},
		{name: "pro under limit", plan: state.Plan{Type: state.PlanPro, ApplicationsUsed: 99}, want: true},
		{name: "pro at limit", plan: state.Plan{Type: state.PlanPro, ApplicationsUsed: 100}, want: false},
		{name: "backend limit overrides", plan: state.Plan{Type: state.PlanPro, ApplicationsUsed: 100, ApplicationLimit: 150}, want: true},
		{name: "credit available", plan: state.Plan{Type: state.PlanCredit, AvailableCredits: 1}, want: true},
		{name: "credit exhausted", plan: state.Plan{Type: state.PlanCredit, AvailableCredits: 0}, want: false},
		{name: "unknown plan", plan: state.Plan{Type: "enterprise", AvailableCredits: 50}, want: false},
		{name: "missing plan", plan: state.Plan{}, want: false},
		{name: "expired unlimited", plan: state.Plan{Type: state.PlanUnlimited}, expiry: &past, want: false},
		{name: "expired credit", plan: state.Plan{Type: state.PlanCredit, AvailableCredits: 9}, expiry: &past, want: false},
		{name: "valid subscription", plan: state.Plan{Type: state.PlanPro}, expiry: &future, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanApplyMore(tt.plan, tt.expiry, now, DefaultLimits()))
		})
	}
}

func TestRemaining(t *testing.T) {
	limits := DefaultLimits()

	assert.Equal(t, Unlimited, Remaining(state.Plan{Type: state.PlanUnlimited}, nil, now, limits))
	assert.Equal(t, 2, Remaining(state.Plan{Type: state.PlanFree, ApplicationsUsed: 3}, nil, now, limits))
	assert.Equal(t, 0, Remaining(state.Plan{Type: state.PlanFree, ApplicationsUsed: 7}, nil, now, limits))
	assert.Equal(t, 4, Remaining(state.Plan{Type: state.PlanCredit, AvailableCredits: 4}, nil, now, limits))
	assert.Equal(t, 0, Remaining(state.Plan{Type: state.PlanCredit, AvailableCredits: -2}, nil, now, limits))
}

func TestQuotaMonotonicUnderCompletions(t *testing.T) {
	gate := NewGate(Limits{Free: 3, Pro: 10}, func() time.Time { return now })
	st := state.New("run", "user", "linkedin", now)
	st.Plan = state.Plan{Type: state.PlanFree}

	completed := 0
	for i := 0; i < 10; i++ {
		if !gate.Allow(st) {
			break
		}
		require.NoError(t, st.LogApplication(state.JobRef{ID: string(rune('a' + i))}, state.OutcomeCompleted, "", now))
		completed++
		assert.Equal(t, completed, st.Plan.ApplicationsUsed)
	}

	assert.Equal(t, 3, completed)
	assert.False(t, gate.Allow(st))
}

func TestGateMaxJobs(t *testing.T) {
	gate := NewGate(DefaultLimits(), func() time.Time { return now })
	st := state.New("run", "user", "linkedin", now)

	st.Plan = state.Plan{Type: state.PlanFree, ApplicationsUsed: 3}
	assert.Equal(t, 2, gate.MaxJobs(st, 25))
	assert.Equal(t, 1, gate.MaxJobs(st, 1))

	st.Plan = state.Plan{Type: state.PlanUnlimited}
	assert.Equal(t, 25, gate.MaxJobs(st, 25))
}
