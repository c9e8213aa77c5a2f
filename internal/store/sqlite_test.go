package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-automation/internal/model"
	"github.com/nhle/mail-automation/internal/store"
	"github.com/nhle/mail-automation/tests/testutil"
)

func TestGetIntegration_NotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetIntegration(context.Background(), "graph")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUpsertIntegration(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertIntegration(ctx, model.Integration{
		Provider: "graph",
		Status:   model.StatusConnecting,
	}))

	first, err := s.GetIntegration(ctx, "graph")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.StatusConnecting, first.Status)
	assert.Nil(t, first.ConnectedAt)

	connectedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertIntegration(ctx, model.Integration{
		Provider:    "graph",
		Status:      model.StatusConnected,
		DisplayName: "Ada",
		Email:       "ada@example.com",
		ConnectedAt: &connectedAt,
	}))

	second, err := s.GetIntegration(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "upsert keeps the original id")
	assert.Equal(t, model.StatusConnected, second.Status)
	assert.Equal(t, "Ada", second.DisplayName)
	assert.Equal(t, "ada@example.com", second.Email)
	require.NotNil(t, second.ConnectedAt)
	assert.True(t, connectedAt.Equal(*second.ConnectedAt))
}

func TestUpsertIntegration_LastError(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertIntegration(ctx, model.Integration{
		Provider:  "zoom",
		Status:    model.StatusFailed,
		LastError: "authorization timeout",
	}))

	got, err := s.GetIntegration(ctx, "zoom")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "authorization timeout", got.LastError)
}

func TestUpsertIntegration_RequiresProvider(t *testing.T) {
	s := testutil.NewTestStore(t)

	assert.Error(t, s.UpsertIntegration(context.Background(), model.Integration{}))
}

func TestGetIntegrations(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertIntegration(ctx, model.Integration{Provider: "zoom"}))
	require.NoError(t, s.UpsertIntegration(ctx, model.Integration{Provider: "graph"}))

	all, err := s.GetIntegrations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "graph", all[0].Provider)
	assert.Equal(t, "zoom", all[1].Provider)
	assert.Equal(t, model.StatusDisconnected, all[1].Status)
}

func TestRecentActivity(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	testutil.SeedActivity(t, s, "graph", "first", "second", "third")

	recent, err := s.GetRecentActivity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Message)
	assert.Equal(t, "second", recent[1].Message)
	assert.NotEmpty(t, recent[0].ID)

	all, err := s.GetRecentActivity(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailauto.db")
	ctx := context.Background()

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertIntegration(ctx, model.Integration{
		Provider: "graph",
		Status:   model.StatusConnected,
	}))
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetIntegration(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnected, got.Status)
}
