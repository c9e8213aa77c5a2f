package store

import (
	"context"
	"errors"

	"github.com/nhle/mail-automation/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for provider connection status
// and the dashboard activity feed.
type Store interface {
	// === Integrations ===

	// UpsertIntegration inserts or replaces the record for in.Provider.
	UpsertIntegration(ctx context.Context, in model.Integration) error
	GetIntegration(ctx context.Context, provider string) (*model.Integration, error)
	GetIntegrations(ctx context.Context) ([]model.Integration, error)

	// === Activity ===

	AddActivity(ctx context.Context, a model.Activity) error
	GetRecentActivity(ctx context.Context, limit int) ([]model.Activity, error)
}
