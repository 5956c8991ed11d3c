package state

import (
	"context"
	"io"
	"time"

	"github.com/ShayCichocki/warden/internal/approval"
	"github.com/ShayCichocki/warden/pkg/models"
)

// SessionStore handles session and task persistence.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.Session) error
	SaveTask(ctx context.Context, t *models.Task) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, status *models.SessionStatus, limit int) ([]*models.Session, error)
	ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error)
	DeleteSession(ctx context.Context, id string) error
	PurgeOldSessions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// It composes focused sub-interfaces so the orchestrator and the approval
// gate can each depend on only what they use.
type StateStore interface {
	io.Closer
	Migrator
	SessionStore
	approval.Store
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore     = (*DB)(nil)
	_ Migrator       = (*DB)(nil)
	_ SessionStore   = (*DB)(nil)
	_ approval.Store = (*DB)(nil)
)
