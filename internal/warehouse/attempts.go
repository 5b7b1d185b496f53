package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/models"
)

// AttemptStore owns the sync_attempts bookkeeping rows.
type AttemptStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewAttemptStore creates a sync attempt store
func NewAttemptStore(db *sql.DB) *AttemptStore {
	return &AttemptStore{db: db, now: time.Now}
}

// Begin inserts a new in-progress attempt row and returns it
func (s *AttemptStore) Begin(ctx context.Context, kind string) (models.SyncAttempt, error) {
	attempt := models.SyncAttempt{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    models.SyncStatusInProgress,
		StartedAt: s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_attempts (id, kind, status, started_at) VALUES ($1, $2, $3, $4)`,
		attempt.ID, attempt.Kind, attempt.Status, attempt.StartedAt,
	)
	if err != nil {
		return models.SyncAttempt{}, fmt.Errorf("begin sync attempt: %w", err)
	}
	return attempt, nil
}

// Finish transitions an attempt to its terminal status with a detail message
func (s *AttemptStore) Finish(ctx context.Context, id, status, detail string) error {
	finishedAt := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_attempts SET status = $2, detail = $3, finished_at = $4 WHERE id = $1`,
		id, status, detail, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish sync attempt %s: %w", id, err)
	}
	return nil
}
