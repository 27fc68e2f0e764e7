// Package quota tracks rolling consumption windows for the generation
// backend and decides whether a job may be admitted for submission.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dropgen/internal/domain"
)

// Window names used as persistence keys.
const (
	WindowDaily   = "daily"
	WindowMonthly = "monthly"
)

const (
	dailyDuration   = 24 * time.Hour
	monthlyDuration = 30 * 24 * time.Hour
)

// Decision is the outcome of a reservation attempt.
type Decision struct {
	Admitted bool
	// Window names the exhausted window when denied.
	Window string
	// RetryAfter is the time until the exhausted window resets.
	RetryAfter time.Duration
}

// WindowStatus is the observable state of one window.
type WindowStatus struct {
	Name      string        `json:"name"`
	Usage     int           `json:"usage"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"-"`
	ResetAt   time.Time     `json:"reset_at"`
}

type window struct {
	name     string
	limit    int
	duration time.Duration
	usage    int
	resetAt  time.Time
}

// Controller guards the daily and monthly counters behind one mutex so
// a reservation is all-or-nothing across both windows: no interleaving
// can observe one window's increment without the other.
type Controller struct {
	mu      sync.Mutex
	store   domain.QuotaStore
	windows []*window
	now     func() time.Time
}

// New builds a controller, restoring persisted counter state. Windows
// with no persisted state (or whose persisted reset has elapsed) start
// fresh from now.
func New(ctx context.Context, store domain.QuotaStore, dailyLimit, monthlyLimit int) (*Controller, error) {
	c := &Controller{
		store: store,
		now:   time.Now,
		windows: []*window{
			{name: WindowDaily, limit: dailyLimit, duration: dailyDuration},
			{name: WindowMonthly, limit: monthlyLimit, duration: monthlyDuration},
		},
	}
	now := c.now()
	for _, w := range c.windows {
		state, err := store.Load(ctx, w.name)
		if err != nil {
			return nil, fmt.Errorf("load %s quota: %w", w.name, err)
		}
		if state == nil || !now.Before(state.ResetAt) {
			w.usage = 0
			w.resetAt = now.Add(w.duration)
			continue
		}
		w.usage = state.Usage
		w.resetAt = state.ResetAt
	}
	return c, nil
}

// SetNowFunc overrides the clock, for tests.
func (c *Controller) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// CheckAndReserve admits units against both windows atomically. A
// window whose reset time has passed rolls over in the same step
// (usage snaps to units, not zero-then-increment). If either window
// would exceed its limit the whole reservation is denied and neither
// counter changes.
func (c *Controller) CheckAndReserve(ctx context.Context, units int) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	type pending struct {
		w       *window
		usage   int
		resetAt time.Time
	}
	staged := make([]pending, 0, len(c.windows))
	for _, w := range c.windows {
		if !now.Before(w.resetAt) {
			staged = append(staged, pending{w: w, usage: units, resetAt: now.Add(w.duration)})
			continue
		}
		if w.usage+units > w.limit {
			return Decision{
				Admitted:   false,
				Window:     w.name,
				RetryAfter: w.resetAt.Sub(now),
			}, nil
		}
		staged = append(staged, pending{w: w, usage: w.usage + units, resetAt: w.resetAt})
	}

	states := make([]domain.QuotaState, 0, len(staged))
	for _, p := range staged {
		states = append(states, domain.QuotaState{Window: p.w.name, Usage: p.usage, ResetAt: p.resetAt})
	}
	if err := c.store.Save(ctx, states); err != nil {
		return Decision{}, fmt.Errorf("save quota: %w", err)
	}
	for _, p := range staged {
		p.w.usage = p.usage
		p.w.resetAt = p.resetAt
	}
	return Decision{Admitted: true}, nil
}

// Status reports both windows' usage, headroom and time to reset.
// Elapsed windows read as empty even before the next reservation rolls
// them over.
func (c *Controller) Status(ctx context.Context) []WindowStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]WindowStatus, 0, len(c.windows))
	for _, w := range c.windows {
		usage, resetAt := w.usage, w.resetAt
		if !now.Before(resetAt) {
			usage = 0
			resetAt = now.Add(w.duration)
		}
		out = append(out, WindowStatus{
			Name:      w.name,
			Usage:     usage,
			Limit:     w.limit,
			Remaining: w.limit - usage,
			ResetIn:   resetAt.Sub(now),
			ResetAt:   resetAt,
		})
	}
	return out
}

// Headroom reports whether at least units fit in every window right now.
func (c *Controller) Headroom(ctx context.Context, units int) bool {
	for _, s := range c.Status(ctx) {
		if s.Remaining < units {
			return false
		}
	}
	return true
}
