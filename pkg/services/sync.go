package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/jsonutil"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/repositories"
	"github.com/arbiter-ai/arbiter-engine/pkg/scryfall"
)

// SyncOptions modify how a sync attempt starts.
type SyncOptions struct {
	// Force skips the manifest freshness check and always re-ingests.
	Force bool

	// ResumeID continues a paused run from its persisted checkpoint instead
	// of starting a new one.
	ResumeID *uuid.UUID
}

// SyncService ingests bulk catalog datasets into the local store.
//
// A call to StartSync runs processing inline until the dataset is exhausted,
// the runtime budget forces a pause, or the stream fails. The caller (an HTTP
// trigger or the cron scheduler) re-invokes with ResumeID while the returned
// run reports a paused status.
type SyncService interface {
	StartSync(ctx context.Context, datasetType models.DatasetType, opts SyncOptions) (*models.SyncRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	LatestCompleted(ctx context.Context, datasetType models.DatasetType) (*models.SyncRun, error)
}

// BulkClient is the slice of the external catalog client the sync engine
// needs.
type BulkClient interface {
	BulkData(ctx context.Context) ([]scryfall.BulkDatum, error)
	OpenBulkStream(ctx context.Context, downloadURI string) (io.ReadCloser, error)
}

type syncService struct {
	cards  repositories.CardRepository
	runs   repositories.SyncRunRepository
	client BulkClient
	logger *zap.Logger

	batchSize     int
	runtimeBudget time.Duration

	// now is swapped for a fake clock in tests.
	now func() time.Time
}

// NewSyncService creates a new SyncService. batchSize bounds how much work is
// redone after an unplanned failure; runtimeBudget bounds one processing
// invocation's wall-clock time.
func NewSyncService(
	cards repositories.CardRepository,
	runs repositories.SyncRunRepository,
	client BulkClient,
	batchSize int,
	runtimeBudget time.Duration,
	logger *zap.Logger,
) SyncService {
	return &syncService{
		cards:         cards,
		runs:          runs,
		client:        client,
		logger:        logger.Named("sync"),
		batchSize:     batchSize,
		runtimeBudget: runtimeBudget,
		now:           time.Now,
	}
}

var _ SyncService = (*syncService)(nil)

func (s *syncService) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	return s.runs.GetByID(ctx, id)
}

func (s *syncService) LatestCompleted(ctx context.Context, datasetType models.DatasetType) (*models.SyncRun, error) {
	return s.runs.LatestCompleted(ctx, datasetType)
}

func (s *syncService) StartSync(ctx context.Context, datasetType models.DatasetType, opts SyncOptions) (*models.SyncRun, error) {
	// Concurrent runs of the same dataset would race on the checkpoint row,
	// so runs are serialized per dataset type with an advisory lock.
	release, locked, err := s.runs.AcquireDatasetLock(ctx, datasetType)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, apperrors.ErrSyncInProgress
	}
	defer release()

	if opts.ResumeID != nil {
		return s.resume(ctx, datasetType, *opts.ResumeID)
	}
	return s.startFresh(ctx, datasetType, opts.Force)
}

func (s *syncService) resume(ctx context.Context, datasetType models.DatasetType, resumeID uuid.UUID) (*models.SyncRun, error) {
	run, err := s.runs.GetByID(ctx, resumeID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("%w: run %s does not exist", apperrors.ErrInvalidResumeState, resumeID)
	}
	if err != nil {
		return nil, err
	}
	if run.DatasetType != datasetType {
		return nil, fmt.Errorf("%w: run %s syncs %s, not %s",
			apperrors.ErrInvalidResumeState, resumeID, run.DatasetType, datasetType)
	}
	if !run.Status.Resumable() {
		return nil, fmt.Errorf("%w: run %s is %s", apperrors.ErrInvalidResumeState, resumeID, run.Status)
	}

	s.logger.Info("Resuming sync run",
		zap.String("run_id", run.ID.String()),
		zap.String("dataset", string(run.DatasetType)),
		zap.Int("processed", run.Processed),
		zap.Stringp("cursor", run.LastOracleID))

	if err := s.transition(ctx, run, models.SyncStatusProcessing); err != nil {
		return nil, err
	}
	return s.process(ctx, run, true)
}

func (s *syncService) startFresh(ctx context.Context, datasetType models.DatasetType, force bool) (*models.SyncRun, error) {
	manifest, err := s.client.BulkData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bulk manifest: %w", err)
	}

	var datum *scryfall.BulkDatum
	for i := range manifest {
		if manifest[i].Type == string(datasetType) {
			datum = &manifest[i]
			break
		}
	}
	if datum == nil {
		return nil, fmt.Errorf("dataset %q not present in bulk manifest", datasetType)
	}

	// Freshness short-circuit: when the local cache already covers the
	// manifest's snapshot, return the previous run without transferring the
	// dataset body.
	if !force {
		latest, err := s.runs.LatestCompleted(ctx, datasetType)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		if err == nil && latest.CompletedAt != nil && !datum.UpdatedAt.After(*latest.CompletedAt) {
			s.logger.Info("Dataset already up to date",
				zap.String("dataset", string(datasetType)),
				zap.Time("remote_updated_at", datum.UpdatedAt),
				zap.Time("last_completed", *latest.CompletedAt))
			return latest, nil
		}
	}

	run := &models.SyncRun{
		DatasetType: datasetType,
		Status:      models.SyncStatusDownloading,
		SourceURI:   &datum.DownloadURI,
		SourceSize:  &datum.Size,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	s.logger.Info("Starting sync run",
		zap.String("run_id", run.ID.String()),
		zap.String("dataset", string(datasetType)),
		zap.Int64("source_size", datum.Size))

	if err := s.transition(ctx, run, models.SyncStatusProcessing); err != nil {
		return nil, err
	}
	return s.process(ctx, run, false)
}

// process is the streaming loop: read one element per iteration, honoring
// the runtime budget, committing batches of upserts, and persisting the
// checkpoint after each committed batch.
func (s *syncService) process(ctx context.Context, run *models.SyncRun, resuming bool) (*models.SyncRun, error) {
	if run.SourceURI == nil {
		return nil, s.fail(ctx, run, fmt.Errorf("run %s has no source URI", run.ID))
	}

	stream, err := s.client.OpenBulkStream(ctx, *run.SourceURI)
	if err != nil {
		return nil, s.fail(ctx, run, fmt.Errorf("failed to open bulk stream: %w", err))
	}
	defer func() { _ = stream.Close() }()

	scanner := jsonutil.NewArrayLineScanner(stream)
	started := s.now()

	// The remote stream cannot be seeked, so resumption re-reads the
	// already-committed prefix and discards it without upserting until the
	// checkpoint record goes by.
	skipping := resuming && run.LastOracleID != nil

	batch := make([]json.RawMessage, 0, s.batchSize)

	for {
		// Budget check sits before each read so a pause always lands on a
		// committed-batch boundary plus at most one in-memory batch, which
		// is flushed below before pausing.
		if s.now().Sub(started) >= s.runtimeBudget {
			if err := s.flush(ctx, run, batch); err != nil {
				return nil, s.fail(ctx, run, err)
			}
			if err := s.transition(ctx, run, models.SyncStatusPaused); err != nil {
				return nil, err
			}
			s.logger.Info("Sync run paused at runtime budget",
				zap.String("run_id", run.ID.String()),
				zap.Int("processed", run.Processed),
				zap.Stringp("cursor", run.LastOracleID))
			return run, nil
		}

		element, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Structural stream failure, not a per-record problem.
			return nil, s.fail(ctx, run, err)
		}

		if skipping {
			if oracleID := extractOracleID(element); oracleID != "" && run.LastOracleID != nil && oracleID == *run.LastOracleID {
				skipping = false
			}
			continue
		}

		batch = append(batch, element)
		if len(batch) >= s.batchSize {
			if err := s.flush(ctx, run, batch); err != nil {
				return nil, s.fail(ctx, run, err)
			}
			batch = batch[:0]
		}
	}

	if err := s.flush(ctx, run, batch); err != nil {
		return nil, s.fail(ctx, run, err)
	}

	total := run.Processed + run.Failed
	run.TotalRecords = &total
	completed := s.now()
	run.CompletedAt = &completed
	if err := s.transition(ctx, run, models.SyncStatusCompleted); err != nil {
		return nil, err
	}

	s.logger.Info("Sync run completed",
		zap.String("run_id", run.ID.String()),
		zap.String("dataset", string(run.DatasetType)),
		zap.Int("processed", run.Processed),
		zap.Int("failed", run.Failed))
	return run, nil
}

// flush commits one batch and persists the checkpoint. The checkpoint write
// deliberately happens after the upserts so it can never run ahead of the
// durably committed progress.
func (s *syncService) flush(ctx context.Context, run *models.SyncRun, batch []json.RawMessage) error {
	if len(batch) == 0 {
		return nil
	}

	switch run.DatasetType {
	case models.DatasetRulings:
		s.flushRulings(ctx, run, batch)
	default:
		s.flushCards(ctx, run, batch)
	}

	if cursor := lastOracleID(batch); cursor != "" {
		run.LastOracleID = &cursor
	}
	if err := s.runs.SaveCheckpoint(ctx, run.ID, run.Processed, run.Failed, run.LastOracleID); err != nil {
		return err
	}
	return nil
}

// flushCards upserts card records one by one. A single bad record is counted
// and logged, never fatal to the batch or the run.
func (s *syncService) flushCards(ctx context.Context, run *models.SyncRun, batch []json.RawMessage) {
	for _, element := range batch {
		var wire scryfall.Card
		if err := json.Unmarshal(element, &wire); err != nil || wire.OracleID == "" || wire.Name == "" {
			run.Failed++
			s.logger.Debug("Skipping malformed card record", zap.Error(err))
			continue
		}

		if err := s.cards.Upsert(ctx, cardFromWire(&wire)); err != nil {
			run.Failed++
			s.logger.Warn("Failed to upsert card",
				zap.String("oracle_id", wire.OracleID),
				zap.Error(err))
			continue
		}
		run.Processed++
	}
}

// flushRulings groups ruling records by oracle id and replaces each card's
// ruling set atomically. Rulings for unknown cards are skipped; rulings never
// create cards.
func (s *syncService) flushRulings(ctx context.Context, run *models.SyncRun, batch []json.RawMessage) {
	grouped := make(map[string][]models.Ruling)
	order := make([]string, 0)
	perRecord := make(map[string]int)

	for _, element := range batch {
		var wire scryfall.Ruling
		if err := json.Unmarshal(element, &wire); err != nil || wire.OracleID == "" {
			run.Failed++
			s.logger.Debug("Skipping malformed ruling record", zap.Error(err))
			continue
		}
		if _, seen := grouped[wire.OracleID]; !seen {
			order = append(order, wire.OracleID)
		}
		grouped[wire.OracleID] = append(grouped[wire.OracleID], rulingFromWire(wire))
		perRecord[wire.OracleID]++
	}

	for _, oracleID := range order {
		err := s.cards.ReplaceRulings(ctx, oracleID, grouped[oracleID])
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			// No local card for these rulings; they are consumed but not
			// stored.
			run.Processed += perRecord[oracleID]
		case err != nil:
			run.Failed += perRecord[oracleID]
			s.logger.Warn("Failed to replace rulings",
				zap.String("oracle_id", oracleID),
				zap.Error(err))
		default:
			run.Processed += perRecord[oracleID]
		}
	}
}

// fail moves the run to its terminal failed state, persisting the error
// message and the last committed checkpoint, then surfaces the error.
func (s *syncService) fail(ctx context.Context, run *models.SyncRun, cause error) error {
	message := cause.Error()
	run.Status = models.SyncStatusFailed
	run.ErrorMessage = &message

	if updateErr := s.runs.Update(ctx, run); updateErr != nil {
		s.logger.Error("Failed to persist failed sync run",
			zap.String("run_id", run.ID.String()),
			zap.Error(updateErr))
	}

	s.logger.Error("Sync run failed",
		zap.String("run_id", run.ID.String()),
		zap.String("dataset", string(run.DatasetType)),
		zap.Stringp("cursor", run.LastOracleID),
		zap.Error(cause))
	return fmt.Errorf("sync run %s failed: %w", run.ID, cause)
}

func (s *syncService) transition(ctx context.Context, run *models.SyncRun, next models.SyncStatus) error {
	if !run.Status.CanTransition(next) {
		return fmt.Errorf("invalid sync status transition %s -> %s", run.Status, next)
	}
	run.Status = next
	return s.runs.Update(ctx, run)
}

// oracleIDProbe decodes just enough of a record to read its external id.
type oracleIDProbe struct {
	OracleID string `json:"oracle_id"`
}

func extractOracleID(element json.RawMessage) string {
	var probe oracleIDProbe
	if err := json.Unmarshal(element, &probe); err != nil {
		return ""
	}
	return probe.OracleID
}

// lastOracleID returns the external id of the last parseable record in the
// batch, which becomes the resume cursor.
func lastOracleID(batch []json.RawMessage) string {
	for i := len(batch) - 1; i >= 0; i-- {
		if id := extractOracleID(batch[i]); id != "" {
			return id
		}
	}
	return ""
}
