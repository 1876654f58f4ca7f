package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// GetPreferences returns nil when the user has never saved preferences
func (s *Store) GetPreferences(ctx context.Context, userID string) (*types.Preferences, error) {
	var p types.Preferences
	var updated int64
	err := s.queryRow(ctx, `
		SELECT user_id, custom_prompt, updated_at FROM user_preferences WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.CustomPrompt, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load preferences")
	}
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

// SavePreferences upserts a user's preferences
func (s *Store) SavePreferences(ctx context.Context, p *types.Preferences) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := s.exec(ctx, `
		INSERT INTO user_preferences (user_id, custom_prompt, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			custom_prompt = excluded.custom_prompt,
			updated_at = excluded.updated_at
	`, p.UserID, p.CustomPrompt, toMillis(p.UpdatedAt))
	if err != nil {
		return errors.Wrap(err, "failed to save preferences")
	}
	return nil
}
