// Package budget caps the tokens a bot owner may spend per day or month.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/tracker"
)

// ErrBudgetExceeded matches every *ExceededError.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ExceededError names the policy that blocked a request and when its
// window reopens.
type ExceededError struct {
	Policy  models.BudgetPolicy
	Used    int64
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	scope := "tokens"
	if e.Policy.Model != "" {
		scope = e.Policy.Model + " tokens"
	}
	return fmt.Sprintf("%s: %d of %d %s %s used", ErrBudgetExceeded, e.Used, e.Policy.MaxTokens, e.Policy.Period, scope)
}

func (e *ExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// RetryAfter is the time left until the window resets, never negative.
func (e *ExceededError) RetryAfter(now time.Time) time.Duration {
	if d := e.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Enforcer checks a user's token usage against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	usage    tracker.Tracker
	now      func() time.Time
}

// New creates an Enforcer over the usage recorded in t.
func New(policies []models.BudgetPolicy, t tracker.Tracker) *Enforcer {
	return &Enforcer{policies: policies, usage: t, now: time.Now}
}

// Check returns an *ExceededError for the first exhausted policy that applies
// to the user and model. An enforcer without policies allows everything.
func (e *Enforcer) Check(ctx context.Context, userID, model string) error {
	now := e.now().UTC()
	for _, p := range e.match(userID, model) {
		start, reset := window(p.Period, now)
		used, err := e.used(ctx, userID, p, start)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used >= p.MaxTokens {
			return &ExceededError{Policy: p, Used: used, ResetAt: reset}
		}
	}
	return nil
}

// Status reports usage against every policy that covers the user, whatever
// its model filter.
func (e *Enforcer) Status(ctx context.Context, userID string) ([]models.BudgetStatus, error) {
	now := e.now().UTC()
	policies := e.match(userID, "")
	statuses := make([]models.BudgetStatus, 0, len(policies))
	for _, p := range policies {
		start, reset := window(p.Period, now)
		used, err := e.used(ctx, userID, p, start)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: max(p.MaxTokens-used, 0),
			ResetAt:   reset,
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, userID string, p models.BudgetPolicy, since time.Time) (int64, error) {
	if p.Model != "" {
		return e.usage.TotalByUserAndModel(ctx, userID, p.Model, since)
	}
	return e.usage.TotalByUser(ctx, userID, since)
}

// match returns the policies for userID. An empty model matches every
// policy; otherwise model-scoped policies must name it.
func (e *Enforcer) match(userID, model string) []models.BudgetPolicy {
	var out []models.BudgetPolicy
	for _, p := range e.policies {
		if p.UserID != "*" && p.UserID != userID {
			continue
		}
		if model != "" && p.Model != "" && p.Model != model {
			continue
		}
		out = append(out, p)
	}
	return out
}

// window returns the UTC start of the period containing now and the start of
// the next one.
func window(period models.BudgetPeriod, now time.Time) (start, reset time.Time) {
	now = now.UTC()
	if period == models.BudgetMonthly {
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
	start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
