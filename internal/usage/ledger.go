package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

// RecordStore persists usage records; inserts are idempotent per message id
type RecordStore interface {
	InsertUsageRecord(ctx context.Context, r *types.UsageRecord) (bool, error)
}

// Turn is one billable assistant answer
type Turn struct {
	MessageID      string
	UserID         string
	ConversationID string
	Provider       string
	Model          string
	Usage          types.Usage
	BYOK           bool
	At             time.Time
}

// Ledger records platform-paid turns
type Ledger struct {
	store  RecordStore
	prices PriceTable
	log    *logger.Logger
}

// NewLedger creates a ledger; nil prices uses DefaultPrices
func NewLedger(store RecordStore, prices PriceTable) *Ledger {
	if prices == nil {
		prices = DefaultPrices
	}
	return &Ledger{
		store:  store,
		prices: prices,
		log:    logger.Component("usage"),
	}
}

// Cost prices a turn; unknown models cost 0
func (l *Ledger) Cost(provider, model string, u types.Usage) float64 {
	p, ok := l.prices.Lookup(provider, model)
	if !ok {
		l.log.Warn("no price for %s/%s, recording cost 0", provider, model)
		return 0
	}
	return Cost(p, u.InputTokens, u.OutputTokens)
}

// Record writes a usage record for a platform-paid turn. Turns on the
// user's own key are skipped. Recording the same message twice is a no-op.
func (l *Ledger) Record(ctx context.Context, t Turn) error {
	if t.BYOK {
		return nil
	}
	if t.MessageID == "" {
		return fmt.Errorf("usage record needs a message id")
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	rec := &types.UsageRecord{
		ID:                 shortuuid.New(),
		MessageID:          t.MessageID,
		UserID:             t.UserID,
		ConversationID:     t.ConversationID,
		InputTokens:        t.Usage.InputTokens,
		OutputTokens:       t.Usage.OutputTokens,
		TotalTokens:        t.Usage.Total(),
		CostUSD:            l.Cost(t.Provider, t.Model, t.Usage),
		Provider:           t.Provider,
		Model:              t.Model,
		CountsAgainstQuota: true,
		CreatedAt:          at,
	}

	inserted, err := l.store.InsertUsageRecord(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	if !inserted {
		l.log.Debug("usage for message %s already recorded", t.MessageID)
	}
	return nil
}
