package store

import (
	"context"

	"github.com/joescharf/scoutsync/internal/models"
)

// Store defines the per-agent persistent cache.
type Store interface {
	// Targets
	LoadTargets(ctx context.Context) (models.Targets, error)
	SaveTargets(ctx context.Context, targets models.Targets) error

	// Key/value settings (last applied command id, agent identity)
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	ListValues(ctx context.Context) (map[string]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
