package store

import (
	"context"

	"github.com/anupzope-go/perfoscope/internal/domain"
)

// StagingDB is the port the façade drives; *Store is its only
// implementation, but keeping the boundary as an interface lets the
// façade's own tests substitute a fake without touching SQLite.
type StagingDB interface {
	RegisterProfile(ctx context.Context, spec domain.ProfileSpec) (int64, error)
	CreateNewRun(ctx context.Context, profileID, size int64) (domain.Run, error)
	InsertValue(ctx context.Context, runID int64, profileID int64, procID, threadID int, category, eventName string, v domain.Value) error
	LoadFromFile(ctx context.Context, path string) error
	StoreToFile(ctx context.Context, path string) error
	Close() error
}

var _ StagingDB = (*Store)(nil)
