package store

import (
	"context"
	"database/sql"

	"scenepipe/internal/media"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// AssetStore persists the output of a job.
type AssetStore interface {
	// InitializeProject prepares storage for a project before any stage runs.
	// It is safe to call again for a project that already exists.
	InitializeProject(ctx context.Context, projectID, title string, sceneIDs []string) error

	// StoreAsset records one completed asset and returns where it was stored.
	StoreAsset(ctx context.Context, projectID, sceneID string, stage media.Stage, sourceURL string, metadata map[string]string) (StoredAsset, error)
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
