package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CivicPulse/civicpulse/internal/config"
)

type fakeStore struct {
	used     int
	byok     bool
	countErr error
	keyErr   error
	since    time.Time
}

func (f *fakeStore) CountQuotaUsage(_ context.Context, _ string, since time.Time) (int, error) {
	f.since = since
	return f.used, f.countErr
}

func (f *fakeStore) HasActiveKey(context.Context, string) (bool, error) {
	return f.byok, f.keyErr
}

func gate(s Store, mutate func(*config.QuotaConfig)) *Gate {
	cfg := config.QuotaConfig{Enabled: true, FreeQueries: 10, Period: "day"}
	if mutate != nil {
		mutate(&cfg)
	}
	g := NewGate(s, cfg)
	g.now = func() time.Time { return time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC) }
	return g
}

func TestCheckUnderLimit(t *testing.T) {
	s := &fakeStore{used: 9}
	d, err := gate(s, nil).Check(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, d.CanQuery)
	assert.Equal(t, 9, d.Used)
	assert.Equal(t, 10, d.Limit)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), s.since)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), d.ResetsAt)
}

func TestCheckAtLimit(t *testing.T) {
	d, err := gate(&fakeStore{used: 10}, nil).Check(context.Background(), "u1")
	require.NoError(t, err)

	assert.False(t, d.CanQuery)
	assert.Equal(t, ReasonExceeded, d.Reason)
	assert.True(t, d.RequiresPayment)
}

func TestCheckMonthlyPeriod(t *testing.T) {
	s := &fakeStore{}
	d, err := gate(s, func(c *config.QuotaConfig) { c.Period = "month" }).Check(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), s.since)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), d.ResetsAt)
}

func TestCheckBypass(t *testing.T) {
	tests := []struct {
		name   string
		store  *fakeStore
		mutate func(*config.QuotaConfig)
	}{
		{"byok user", &fakeStore{used: 100, byok: true}, nil},
		{"unlimited user", &fakeStore{used: 100}, func(c *config.QuotaConfig) { c.UnlimitedUsers = []string{"u1"} }},
		{"quota disabled", &fakeStore{used: 100, countErr: errors.New("db down")}, func(c *config.QuotaConfig) { c.Enabled = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := gate(tt.store, tt.mutate).Check(context.Background(), "u1")
			require.NoError(t, err)
			assert.True(t, d.CanQuery)
			assert.True(t, d.Unlimited)
		})
	}
}

func TestCheckFailsClosed(t *testing.T) {
	for _, s := range []*fakeStore{
		{countErr: errors.New("db down")},
		{keyErr: errors.New("db down")},
	} {
		d, err := gate(s, nil).Check(context.Background(), "u1")
		require.ErrorIs(t, err, ErrUnavailable)
		assert.False(t, d.CanQuery)
		assert.Equal(t, ReasonUnavailable, d.Reason)
	}
}

func TestCheckFailOpen(t *testing.T) {
	d, err := gate(&fakeStore{countErr: errors.New("db down")}, func(c *config.QuotaConfig) { c.FailOpen = true }).
		Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, d.CanQuery)
}

func TestReconfigure(t *testing.T) {
	g := gate(&fakeStore{used: 10}, nil)

	d, err := g.Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, d.CanQuery)

	g.Reconfigure(config.QuotaConfig{Enabled: true, FreeQueries: 25, Period: "month"})
	d, err = g.Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, d.CanQuery)
	assert.Equal(t, 25, d.Limit)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), d.ResetsAt)

	g.Reconfigure(config.QuotaConfig{Enabled: true, FreeQueries: 1, UnlimitedUsers: []string{"u1"}})
	d, err = g.Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, d.Unlimited)
}
