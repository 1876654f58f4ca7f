package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestEnsureConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.EnsureConversation(ctx, "conv-1", "user-1", "Who is my MP?")
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.UserID)

	again, err := s.EnsureConversation(ctx, "conv-1", "user-1", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "Who is my MP?", again.Title)

	_, err = s.EnsureConversation(ctx, "conv-1", "intruder", "")
	assert.ErrorIs(t, err, ErrNotOwner)

	missing, err := s.GetConversation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessagesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureConversation(ctx, "conv-1", "user-1", "")
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*types.Message{
		{ID: "m1", ConversationID: "conv-1", Role: types.RoleUser, Content: "hello", CreatedAt: base},
		{ID: "m2", ConversationID: "conv-1", Role: types.RoleAssistant, Kind: types.KindText, Content: "hi",
			InputTokens: 10, OutputTokens: 5, TotalTokens: 15, Provider: "anthropic", Model: "claude-sonnet-4",
			CostUSD: 0.0001, UsedBYOKey: true, CreatedAt: base.Add(time.Second)},
		{ID: "m3", ConversationID: "conv-1", Role: types.RoleAssistant, Kind: types.KindToolCall, Content: `{"name":"get_mp"}`, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, s.AppendMessage(ctx, m))
	}

	all, err := s.ListMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m1", all[0].ID)
	assert.Equal(t, types.KindText, all[0].Kind)
	assert.True(t, all[1].UsedBYOKey)
	assert.Equal(t, 15, all[1].TotalTokens)
	assert.InDelta(t, 0.0001, all[1].CostUSD, 1e-12)
	assert.Equal(t, types.KindToolCall, all[2].Kind)

	recent, err := s.ListMessages(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m2", recent[0].ID)
	assert.Equal(t, "m3", recent[1].ID)
}

func TestUpdateConversationAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureConversation(ctx, "conv-1", "user-1", "")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateConversationAggregates(ctx, "conv-1", 2, 150, at))
	require.NoError(t, s.UpdateConversationAggregates(ctx, "conv-1", 2, 50, at.Add(time.Minute)))

	c, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 4, c.MessageCount)
	assert.Equal(t, 200, c.TotalTokens)
	assert.True(t, c.LastMessageAt.Equal(at.Add(time.Minute)))

	list, err := s.ListConversations(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUsageRecordsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &types.UsageRecord{
		ID: "u1", MessageID: "m1", UserID: "user-1", ConversationID: "conv-1",
		InputTokens: 100, OutputTokens: 50, TotalTokens: 150, CostUSD: 0.5,
		Provider: "anthropic", Model: "claude-sonnet-4", CountsAgainstQuota: true,
	}
	inserted, err := s.InsertUsageRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *rec
	dup.ID = "u2"
	inserted, err = s.InsertUsageRecord(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := s.CountQuotaUsage(ctx, "user-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountQuotaUsage(ctx, "user-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	sum, err := s.SummarizeUsage(ctx, "user-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Turns)
	assert.InDelta(t, 0.5, sum.CostUSD, 1e-9)
}

func TestCountQuotaUsage_IgnoresNonCounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertUsageRecord(ctx, &types.UsageRecord{ID: "u1", MessageID: "m1", UserID: "user-1", CountsAgainstQuota: false})
	require.NoError(t, err)

	n, err := s.CountQuotaUsage(ctx, "user-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasActiveKey(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.SaveAPIKey(ctx, &types.StoredKey{UserID: "user-1", Provider: "openai", EncryptedKey: "a", IV: "b", AuthTag: "c"}))
	require.NoError(t, s.SaveAPIKey(ctx, &types.StoredKey{UserID: "user-1", Provider: "openai", EncryptedKey: "a2", IV: "b2", AuthTag: "c2"}))

	keys, err := s.ListActiveKeys(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "a2", keys[0].EncryptedKey)

	found, err := s.DeactivateAPIKey(ctx, "user-1", "openai")
	require.NoError(t, err)
	assert.True(t, found)

	has, err = s.HasActiveKey(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, has)

	found, err = s.DeactivateAPIKey(ctx, "user-1", "gemini")
	require.NoError(t, err)
	assert.False(t, found)

	// saving again reactivates
	require.NoError(t, s.SaveAPIKey(ctx, &types.StoredKey{UserID: "user-1", Provider: "openai", EncryptedKey: "a3", IV: "b3", AuthTag: "c3"}))
	has, err = s.HasActiveKey(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, s.SavePreferences(ctx, &types.Preferences{UserID: "user-1", CustomPrompt: "Answer briefly."}))
	require.NoError(t, s.SavePreferences(ctx, &types.Preferences{UserID: "user-1", CustomPrompt: "Answer in French."}))

	p, err = s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Answer in French.", p.CustomPrompt)
}
