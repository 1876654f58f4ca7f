// Package quota decides whether a user may start another chat turn.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/CivicPulse/civicpulse/internal/config"
	"github.com/CivicPulse/civicpulse/internal/logger"
)

// ErrUnavailable means usage could not be read and the gate failed closed
var ErrUnavailable = errors.New("unable to verify quota")

const (
	ReasonExceeded    = "Quota exceeded"
	ReasonUnavailable = "Unable to verify quota"
)

// Store is the slice of persistence the gate reads
type Store interface {
	CountQuotaUsage(ctx context.Context, userID string, since time.Time) (int, error)
	HasActiveKey(ctx context.Context, userID string) (bool, error)
}

// Decision is the gate's answer for one request
type Decision struct {
	CanQuery        bool      `json:"can_query"`
	Reason          string    `json:"reason,omitempty"`
	RequiresPayment bool      `json:"requires_payment,omitempty"`
	Unlimited       bool      `json:"unlimited,omitempty"`
	Used            int       `json:"used"`
	Limit           int       `json:"limit"`
	ResetsAt        time.Time `json:"resets_at,omitzero"`
}

type settings struct {
	cfg       config.QuotaConfig
	unlimited map[string]bool
}

// Gate checks per-user free-tier usage
type Gate struct {
	store    Store
	settings atomic.Pointer[settings]
	now      func() time.Time
	log      *logger.Logger
}

// NewGate creates a gate from quota configuration
func NewGate(store Store, cfg config.QuotaConfig) *Gate {
	g := &Gate{
		store: store,
		now:   time.Now,
		log:   logger.Component("quota"),
	}
	g.Reconfigure(cfg)
	return g
}

// Reconfigure swaps the limits used by later checks
func (g *Gate) Reconfigure(cfg config.QuotaConfig) {
	unlimited := make(map[string]bool, len(cfg.UnlimitedUsers))
	for _, u := range cfg.UnlimitedUsers {
		unlimited[u] = true
	}
	g.settings.Store(&settings{cfg: cfg, unlimited: unlimited})
}

// Check decides whether userID may query now. A non-nil error wraps
// ErrUnavailable; the returned Decision then carries the refusal reason.
func (g *Gate) Check(ctx context.Context, userID string) (Decision, error) {
	s := g.settings.Load()
	if !s.cfg.Enabled || s.unlimited[userID] {
		return Decision{CanQuery: true, Unlimited: true}, nil
	}

	byok, err := g.store.HasActiveKey(ctx, userID)
	if err != nil {
		return g.unavailable(s.cfg, userID, err)
	}
	if byok {
		return Decision{CanQuery: true, Unlimited: true}, nil
	}

	start, resets := period(s.cfg.Period, g.now())
	used, err := g.store.CountQuotaUsage(ctx, userID, start)
	if err != nil {
		return g.unavailable(s.cfg, userID, err)
	}

	d := Decision{
		CanQuery: used < s.cfg.FreeQueries,
		Used:     used,
		Limit:    s.cfg.FreeQueries,
		ResetsAt: resets,
	}
	if !d.CanQuery {
		d.Reason = ReasonExceeded
		d.RequiresPayment = true
	}
	return d, nil
}

func (g *Gate) unavailable(cfg config.QuotaConfig, userID string, err error) (Decision, error) {
	if cfg.FailOpen {
		g.log.Warn("quota lookup failed for %s, allowing (failOpen): %v", userID, err)
		return Decision{CanQuery: true, Limit: cfg.FreeQueries}, nil
	}
	g.log.Error("quota lookup failed for %s: %v", userID, err)
	return Decision{Reason: ReasonUnavailable}, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// period returns the UTC start of the current window and when it resets
func period(kind string, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	if kind == "month" {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
