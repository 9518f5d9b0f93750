// Package quota decides whether a run may submit one more application.
package quota

import (
	"errors"
	"time"

	"github.com/spigell/autoapply/internal/state"
)

// ErrLimitReached is reported when the plan has no quota left.
var ErrLimitReached = errors.New("application limit reached")

// Unlimited is returned by Remaining for plans without a cap.
const Unlimited = -1

// Limits holds the configured per-plan application caps.
type Limits struct {
	Free int `mapstructure:"free"`
	Pro  int `mapstructure:"pro"`
}

// DefaultLimits matches the backend's stock plans.
func DefaultLimits() Limits {
	return Limits{Free: 5, Pro: 100}
}

func (l Limits) limitFor(plan state.Plan) int {
	if plan.ApplicationLimit > 0 {
		return plan.ApplicationLimit
	}
	switch plan.Type {
	case state.PlanFree:
		return l.Free
	case state.PlanPro:
		return l.Pro
	default:
		return 0
	}
}

func expired(expiry *time.Time, now time.Time) bool {
	return expiry != nil && !expiry.IsZero() && now.After(*expiry)
}

// CanApplyMore reports whether one more application is allowed. Unknown plans
// and expired subscriptions are always denied.
func CanApplyMore(plan state.Plan, expiry *time.Time, now time.Time, limits Limits) bool {
	return Remaining(plan, expiry, now, limits) != 0
}

// Remaining returns how many more applications the plan allows, or Unlimited.
func Remaining(plan state.Plan, expiry *time.Time, now time.Time, limits Limits) int {
	if expired(expiry, now) {
		return 0
	}

	switch plan.Type {
	case state.PlanUnlimited:
		return Unlimited
	case state.PlanCredit:
		return max(plan.AvailableCredits, 0)
	case state.PlanFree, state.PlanPro:
		return max(limits.limitFor(plan)-plan.ApplicationsUsed, 0)
	default:
		return 0
	}
}

// Gate binds limits and a clock so callers only pass the run state.
type Gate struct {
	limits Limits
	now    func() time.Time
}

// NewGate returns a Gate using limits. A nil clock means time.Now.
func NewGate(limits Limits, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{limits: limits, now: now}
}

// Allow reports whether st may open one more application.
func (g *Gate) Allow(st *state.RunState) bool {
	return CanApplyMore(st.Plan, st.SubscriptionExpiry, g.now(), g.limits)
}

// Remaining returns the remaining quota for st, or Unlimited.
func (g *Gate) Remaining(st *state.RunState) int {
	return Remaining(st.Plan, st.SubscriptionExpiry, g.now(), g.limits)
}

// MaxJobs caps queueLength by the remaining quota.
func (g *Gate) MaxJobs(st *state.RunState, queueLength int) int {
	remaining := g.Remaining(st)
	if remaining == Unlimited || remaining > queueLength {
		return queueLength
	}
	return remaining
}
