package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/database"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
)

// SyncRunRepository provides data access for bulk synchronization runs.
// Runs are append-only from the caller's perspective: they are created,
// mutated through status and checkpoint updates, and never deleted.
type SyncRunRepository interface {
	Create(ctx context.Context, run *models.SyncRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)

	// LatestCompleted returns the most recently completed run for a dataset,
	// or apperrors.ErrNotFound when the dataset has never completed a sync.
	LatestCompleted(ctx context.Context, datasetType models.DatasetType) (*models.SyncRun, error)

	// Update persists every mutable field of the run.
	Update(ctx context.Context, run *models.SyncRun) error

	// SaveCheckpoint persists only the progress counters and resume cursor.
	// Called once per committed batch, after the batch is durably upserted.
	SaveCheckpoint(ctx context.Context, id uuid.UUID, processed, failed int, lastOracleID *string) error

	// AcquireDatasetLock takes a session-scoped advisory lock serializing
	// sync runs per dataset type. ok is false when another run holds it.
	AcquireDatasetLock(ctx context.Context, datasetType models.DatasetType) (release func(), ok bool, err error)
}

type syncRunRepository struct {
	db *database.DB
}

// NewSyncRunRepository creates a new SyncRunRepository.
func NewSyncRunRepository(db *database.DB) SyncRunRepository {
	return &syncRunRepository{db: db}
}

var _ SyncRunRepository = (*syncRunRepository)(nil)

func (r *syncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	now := time.Now()

	query := `
		INSERT INTO sync_runs (
			id, dataset_type, status, processed, failed, total_records,
			last_oracle_id, source_uri, source_size, error_message,
			started_at, completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $11)
		RETURNING started_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		run.ID,
		run.DatasetType,
		run.Status,
		run.Processed,
		run.Failed,
		run.TotalRecords,
		run.LastOracleID,
		run.SourceURI,
		run.SourceSize,
		run.ErrorMessage,
		now,
		run.CompletedAt,
	).Scan(&run.StartedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

const syncRunColumns = `
	id, dataset_type, status, processed, failed, total_records,
	last_oracle_id, source_uri, source_size, error_message,
	started_at, completed_at, updated_at`

func (r *syncRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	return r.getOne(ctx,
		`SELECT`+syncRunColumns+` FROM sync_runs WHERE id = $1`, id)
}

func (r *syncRunRepository) LatestCompleted(ctx context.Context, datasetType models.DatasetType) (*models.SyncRun, error) {
	return r.getOne(ctx,
		`SELECT`+syncRunColumns+`
		 FROM sync_runs
		 WHERE dataset_type = $1 AND status = 'completed'
		 ORDER BY completed_at DESC
		 LIMIT 1`, datasetType)
}

func (r *syncRunRepository) getOne(ctx context.Context, query string, arg any) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&run.ID,
		&run.DatasetType,
		&run.Status,
		&run.Processed,
		&run.Failed,
		&run.TotalRecords,
		&run.LastOracleID,
		&run.SourceURI,
		&run.SourceSize,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.CompletedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return &run, nil
}

func (r *syncRunRepository) Update(ctx context.Context, run *models.SyncRun) error {
	query := `
		UPDATE sync_runs
		SET status = $2, processed = $3, failed = $4, total_records = $5,
		    last_oracle_id = $6, source_uri = $7, source_size = $8,
		    error_message = $9, completed_at = $10, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		run.ID,
		run.Status,
		run.Processed,
		run.Failed,
		run.TotalRecords,
		run.LastOracleID,
		run.SourceURI,
		run.SourceSize,
		run.ErrorMessage,
		run.CompletedAt,
	).Scan(&run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update sync run: %w", err)
	}
	return nil
}

func (r *syncRunRepository) SaveCheckpoint(ctx context.Context, id uuid.UUID, processed, failed int, lastOracleID *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_runs
		SET processed = $2, failed = $3, last_oracle_id = $4, updated_at = now()
		WHERE id = $1`,
		id, processed, failed, lastOracleID)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *syncRunRepository) AcquireDatasetLock(ctx context.Context, datasetType models.DatasetType) (func(), bool, error) {
	// The lock must be released on the same session that took it, so a
	// dedicated connection is held for the lock's lifetime.
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for dataset lock: %w", err)
	}

	var locked bool
	err = conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtext('sync:' || $1))`, string(datasetType),
	).Scan(&locked)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to take dataset lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		_, _ = conn.Exec(context.Background(),
			`SELECT pg_advisory_unlock(hashtext('sync:' || $1))`, string(datasetType))
		conn.Release()
	}
	return release, true, nil
}
