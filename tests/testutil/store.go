package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-automation/internal/model"
	"github.com/nhle/mail-automation/internal/store"
)

// ActivityBase is the timestamp of the first entry SeedActivity writes.
var ActivityBase = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// NewTestStore opens an in-memory integration store with migrations
// applied and closes it when the test ends.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "opening test store")
	t.Cleanup(func() {
		require.NoError(t, s.Close(), "closing test store")
	})

	return s
}

// SeedActivity writes one activity entry per message for provider, one
// minute apart starting at ActivityBase, oldest first.
func SeedActivity(t *testing.T, s store.Store, provider string, messages ...string) {
	t.Helper()

	ctx := context.Background()
	for i, msg := range messages {
		require.NoError(t, s.AddActivity(ctx, model.Activity{
			Provider:  provider,
			Message:   msg,
			CreatedAt: ActivityBase.Add(time.Duration(i) * time.Minute),
		}))
	}
}
