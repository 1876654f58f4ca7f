package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// SaveAPIKey upserts the sealed key for (user, provider) and reactivates it
func (s *Store) SaveAPIKey(ctx context.Context, k *types.StoredKey) error {
	now := time.Now().UTC()
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now
	k.IsActive = true

	_, err := s.exec(ctx, `
		INSERT INTO api_keys (id, user_id, provider, encrypted_key, iv, auth_tag, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			encrypted_key = excluded.encrypted_key,
			iv = excluded.iv,
			auth_tag = excluded.auth_tag,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, k.ID, k.UserID, k.Provider, k.EncryptedKey, k.IV, k.AuthTag, k.IsActive, toMillis(k.CreatedAt), toMillis(k.UpdatedAt))
	if err != nil {
		return errors.Wrap(err, "failed to save api key")
	}
	return nil
}

// ListActiveKeys returns a user's active sealed keys
func (s *Store) ListActiveKeys(ctx context.Context, userID string) ([]types.StoredKey, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, provider, encrypted_key, iv, auth_tag, is_active, created_at, updated_at
		FROM api_keys WHERE user_id = ? AND is_active = ?
		ORDER BY provider
	`, userID, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list api keys")
	}
	defer rows.Close()

	var out []types.StoredKey
	for rows.Next() {
		var k types.StoredKey
		var created, updated int64
		if err := rows.Scan(&k.ID, &k.UserID, &k.Provider, &k.EncryptedKey, &k.IV, &k.AuthTag, &k.IsActive, &created, &updated); err != nil {
			return nil, errors.Wrap(err, "failed to scan api key")
		}
		k.CreatedAt = fromMillis(created)
		k.UpdatedAt = fromMillis(updated)
		out = append(out, k)
	}
	return out, rows.Err()
}

// HasActiveKey reports whether the user has any active stored key
func (s *Store) HasActiveKey(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.queryRow(ctx, `SELECT 1 FROM api_keys WHERE user_id = ? AND is_active = ? LIMIT 1`, userID, true).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check api keys")
	}
	return true, nil
}

// DeactivateAPIKey marks a user's key inactive. It reports whether a key existed.
func (s *Store) DeactivateAPIKey(ctx context.Context, userID, provider string) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE api_keys SET is_active = ?, updated_at = ? WHERE user_id = ? AND provider = ?
	`, false, toMillis(time.Now().UTC()), userID, provider)
	if err != nil {
		return false, errors.Wrap(err, "failed to deactivate api key")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n > 0, nil
}
