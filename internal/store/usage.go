package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// InsertUsageRecord writes one record per assistant message. A second insert
// for the same message id is ignored and reports inserted=false.
func (s *Store) InsertUsageRecord(ctx context.Context, r *types.UsageRecord) (bool, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	res, err := s.exec(ctx, `
		INSERT INTO usage_records (id, message_id, user_id, conversation_id, input_tokens, output_tokens,
			total_tokens, cost_usd, provider, model, counts_against_quota, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING
	`, r.ID, r.MessageID, r.UserID, r.ConversationID, r.InputTokens, r.OutputTokens,
		r.TotalTokens, r.CostUSD, r.Provider, r.Model, r.CountsAgainstQuota, toMillis(r.CreatedAt))
	if err != nil {
		return false, errors.Wrap(err, "failed to insert usage record")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n > 0, nil
}

// CountQuotaUsage counts quota-bearing records for a user since the given time
func (s *Store) CountQuotaUsage(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM usage_records
		WHERE user_id = ? AND counts_against_quota = ? AND created_at >= ?
	`, userID, true, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count usage")
	}
	return n, nil
}

// UsageSummary aggregates a user's recorded spend
type UsageSummary struct {
	Turns        int     `json:"turns"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// SummarizeUsage totals a user's records since the given time
func (s *Store) SummarizeUsage(ctx context.Context, userID string, since time.Time) (*UsageSummary, error) {
	var sum UsageSummary
	err := s.queryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage_records WHERE user_id = ? AND created_at >= ?
	`, userID, toMillis(since)).Scan(&sum.Turns, &sum.InputTokens, &sum.OutputTokens, &sum.CostUSD)
	if err != nil {
		return nil, errors.Wrap(err, "failed to summarize usage")
	}
	return &sum, nil
}
