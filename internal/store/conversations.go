package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// ErrNotOwner is returned when a conversation belongs to another user
var ErrNotOwner = errors.New("conversation belongs to another user")

// CreateConversation inserts a new conversation
func (s *Store) CreateConversation(ctx context.Context, c *types.Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = c.CreatedAt
	}

	_, err := s.exec(ctx, `
		INSERT INTO conversations (id, user_id, title, message_count, total_tokens, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.Title, c.MessageCount, c.TotalTokens, toMillis(c.LastMessageAt), toMillis(c.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "failed to create conversation")
	}
	return nil
}

// GetConversation returns nil when the conversation does not exist
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	var c types.Conversation
	var last, created int64
	err := s.queryRow(ctx, `
		SELECT id, user_id, title, message_count, total_tokens, last_message_at, created_at
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &c.UserID, &c.Title, &c.MessageCount, &c.TotalTokens, &last, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load conversation")
	}
	c.LastMessageAt = fromMillis(last)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

// EnsureConversation loads the conversation, creating it for userID when it
// does not exist yet. It fails with ErrNotOwner for someone else's thread.
func (s *Store) EnsureConversation(ctx context.Context, id, userID, title string) (*types.Conversation, error) {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c != nil {
		if c.UserID != userID {
			return nil, ErrNotOwner
		}
		return c, nil
	}

	c = &types.Conversation{ID: id, UserID: userID, Title: title}
	if err := s.CreateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns a user's conversations, most recent first
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]types.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `
		SELECT id, user_id, title, message_count, total_tokens, last_message_at, created_at
		FROM conversations WHERE user_id = ?
		ORDER BY last_message_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	var out []types.Conversation
	for rows.Next() {
		var c types.Conversation
		var last, created int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.MessageCount, &c.TotalTokens, &last, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		c.LastMessageAt = fromMillis(last)
		c.CreatedAt = fromMillis(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConversationAggregates bumps counters and the activity timestamp
func (s *Store) UpdateConversationAggregates(ctx context.Context, id string, addMessages, addTokens int, at time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE conversations
		SET message_count = message_count + ?, total_tokens = total_tokens + ?, last_message_at = ?
		WHERE id = ?
	`, addMessages, addTokens, toMillis(at), id)
	if err != nil {
		return errors.Wrap(err, "failed to update conversation")
	}
	return nil
}

// AppendMessage inserts a message; an empty kind is stored as text
func (s *Store) AppendMessage(ctx context.Context, m *types.Message) error {
	if m.Kind == "" {
		m.Kind = types.KindText
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, kind, content, input_tokens, output_tokens,
			total_tokens, provider, model, cost_usd, used_byo_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, string(m.Role), string(m.Kind), m.Content, m.InputTokens, m.OutputTokens,
		m.TotalTokens, m.Provider, m.Model, m.CostUSD, m.UsedBYOKey, toMillis(m.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "failed to append message")
	}
	return nil
}

// ListMessages returns up to limit of the most recent messages in
// chronological order. limit <= 0 returns all.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	q := `
		SELECT id, conversation_id, role, kind, content, input_tokens, output_tokens, total_tokens,
			provider, model, cost_usd, used_byo_key, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var role, kind string
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &kind, &m.Content, &m.InputTokens, &m.OutputTokens,
			&m.TotalTokens, &m.Provider, &m.Model, &m.CostUSD, &m.UsedBYOKey, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		m.Role = types.Role(role)
		m.Kind = types.Kind(kind)
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
