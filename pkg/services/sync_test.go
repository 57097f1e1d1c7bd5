package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/scryfall"
)

const testBulkURI = "https://bulk.test/oracle-cards.json"

func newTestSync(cards *mockCardRepo, runs *mockSyncRunRepo, bulk *mockBulkClient, batchSize int) *syncService {
	svc := NewSyncService(cards, runs, bulk, batchSize, time.Hour, zap.NewNop())
	return svc.(*syncService)
}

func seqIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("oracle-%03d", i+1)
	}
	return ids
}

// cardBody renders a bulk card dataset in the bracketed one-record-per-line
// layout the downloader emits.
func cardBody(ids ...string) string {
	var b strings.Builder
	b.WriteString("[\n")
	for i, id := range ids {
		fmt.Fprintf(&b, `  {"id": "print-%s", "oracle_id": "%s", "name": "Card %s", "type_line": "Instant"}`, id, id, id)
		if i < len(ids)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("]\n")
	return b.String()
}

func oracleCardsManifest(updatedAt time.Time, size int64) []scryfall.BulkDatum {
	return []scryfall.BulkDatum{
		{Type: "rulings", UpdatedAt: updatedAt, Size: 1, DownloadURI: "https://bulk.test/rulings.json"},
		{Type: string(models.DatasetOracleCards), UpdatedAt: updatedAt, Size: size, DownloadURI: testBulkURI},
	}
}

// stepClock advances a fixed amount on every reading.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func TestStartSync_FreshRunCompletes(t *testing.T) {
	ids := seqIDs(7)
	cards := newMockCardRepo()
	runs := newMockSyncRunRepo()
	bulk := newMockBulkClient()
	bulk.manifest = oracleCardsManifest(time.Now(), 1024)
	bulk.bodies[testBulkURI] = cardBody(ids...)

	svc := newTestSync(cards, runs, bulk, 3)

	run, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 7, run.Processed)
	assert.Equal(t, 0, run.Failed)
	require.NotNil(t, run.TotalRecords)
	assert.Equal(t, 7, *run.TotalRecords)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.LastOracleID)
	assert.Equal(t, "oracle-007", *run.LastOracleID)

	// Batches of 3 over 7 records make three checkpoint writes.
	assert.Equal(t, 3, runs.checkpointSaves)
	assert.Len(t, cards.cards, 7)

	// The dataset lock is released when the run finishes.
	assert.False(t, runs.lockHeld[models.DatasetOracleCards])

	persisted, err := svc.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, persisted.Status)
}

func TestStartSync_MalformedRecordsAreCountedNotFatal(t *testing.T) {
	body := "[\n" +
		`{"id": "print-1", "oracle_id": "oracle-001", "name": "Card One"},` + "\n" +
		`{"this is not json,` + "\n" +
		`{"id": "print-2", "oracle_id": "", "name": "No Oracle"},` + "\n" +
		`{"id": "print-3", "oracle_id": "oracle-003", "name": ""},` + "\n" +
		`{"id": "print-4", "oracle_id": "oracle-004", "name": "Card Four"}` + "\n" +
		"]\n"

	cards := newMockCardRepo()
	runs := newMockSyncRunRepo()
	bulk := newMockBulkClient()
	bulk.manifest = oracleCardsManifest(time.Now(), 1024)
	bulk.bodies[testBulkURI] = body

	svc := newTestSync(cards, runs, bulk, 100)

	run, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 3, run.Failed)
	assert.Len(t, cards.cards, 2)
}

func TestStartSync_UpsertFailureIsCounted(t *testing.T) {
	ids := seqIDs(4)
	cards := newMockCardRepo()
	cards.failOracleIDs = map[string]bool{"oracle-002": true}
	runs := newMockSyncRunRepo()
	bulk := newMockBulkClient()
	bulk.manifest = oracleCardsManifest(time.Now(), 1024)
	bulk.bodies[testBulkURI] = cardBody(ids...)

	svc := newTestSync(cards, runs, bulk, 2)

	run, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 1, run.Failed)
}

func TestStartSync_FreshnessShortCircuit(t *testing.T) {
	remoteUpdated := time.Now().Add(-2 * time.Hour)
	completedAfter := time.Now().Add(-time.Hour)

	runs := newMockSyncRunRepo()
	previous := &models.SyncRun{
		ID:          uuid.New(),
		DatasetType: models.DatasetOracleCards,
		Status:      models.SyncStatusCompleted,
		Processed:   100,
		CompletedAt: &completedAfter,
	}
	runs.runs[previous.ID] = previous

	bulk := newMockBulkClient()
	bulk.manifest = oracleCardsManifest(remoteUpdated, 1024)
	bulk.bodies[testBulkURI] = cardBody(seqIDs(3)...)

	svc := newTestSync(newMockCardRepo(), runs, bulk, 10)

	run, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, previous.ID, run.ID)
	assert.Zero(t, bulk.openCalls, "an up-to-date dataset must not be re-downloaded")

	// Force bypasses the freshness check.
	run, err = svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{Force: true})
	require.NoError(t, err)
	assert.NotEqual(t, previous.ID, run.ID)
	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 1, bulk.openCalls)
}

func TestStartSync_PausesAtRuntimeBudgetAndResumes(t *testing.T) {
	ids := seqIDs(5)
	cards := newMockCardRepo()
	runs := newMockSyncRunRepo()
	bulk := newMockBulkClient()
	bulk.manifest = oracleCardsManifest(time.Now(), 1024)
	bulk.bodies[testBulkURI] = cardBody(ids...)

	svc := newTestSync(cards, runs, bulk, 10)
	svc.runtimeBudget = 25 * time.Second
	clock := &stepClock{t: time.Now(), step: 10 * time.Second}
	svc.now = clock.Now

	run, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{})
	require.NoError(t, err)

	// Two records fit inside the budget; the in-memory batch is flushed
	// before pausing so the checkpoint covers them.
	assert.Equal(t, models.SyncStatusPaused, run.Status)
	assert.Equal(t, 2, run.Processed)
	require.NotNil(t, run.LastOracleID)
	assert.Equal(t, "oracle-002", *run.LastOracleID)
	assert.Nil(t, run.CompletedAt)
	assert.False(t, runs.lockHeld[models.DatasetOracleCards])

	// Resume with a generous clock finishes the dataset without double
	// counting the committed prefix.
	svc.now = time.Now
	resumed, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{ResumeID: &run.ID})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusCompleted, resumed.Status)
	assert.Equal(t, 5, resumed.Processed)
	assert.Equal(t, 0, resumed.Failed)
	require.NotNil(t, resumed.TotalRecords)
	assert.Equal(t, 5, *resumed.TotalRecords)
	assert.Equal(t, 5, cards.upsertCalls, "committed records must not be re-upserted")
	assert.Len(t, cards.cards, 5)
}

func TestStartSync_ResumeSkipsThroughCheckpoint(t *testing.T) {
	ids := seqIDs(6)
	cursor := "oracle-002"

	cards := newMockCardRepo()
	runs := newMockSyncRunRepo()
	paused := &models.SyncRun{
		ID:           uuid.New(),
		DatasetType:  models.DatasetOracleCards,
		Status:       models.SyncStatusPaused,
		Processed:    2,
		SourceURI:    strPtr(testBulkURI),
		LastOracleID: &cursor,
	}
	runs.runs[paused.ID] = paused

	bulk := newMockBulkClient()
	bulk.bodies[testBulkURI] = cardBody(ids...)

	svc := newTestSync(cards, runs, bulk, 2)

	run, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{ResumeID: &paused.ID})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 6, run.Processed)
	assert.Equal(t, 4, cards.upsertCalls)
	assert.Equal(t, "oracle-006", *run.LastOracleID)
}

func TestStartSync_ResumeValidation(t *testing.T) {
	runs := newMockSyncRunRepo()
	completed := &models.SyncRun{
		ID:          uuid.New(),
		DatasetType: models.DatasetOracleCards,
		Status:      models.SyncStatusCompleted,
	}
	runs.runs[completed.ID] = completed
	pausedRulings := &models.SyncRun{
		ID:          uuid.New(),
		DatasetType: models.DatasetRulings,
		Status:      models.SyncStatusPaused,
	}
	runs.runs[pausedRulings.ID] = pausedRulings

	svc := newTestSync(newMockCardRepo(), runs, newMockBulkClient(), 10)

	unknown := uuid.New()
	_, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{ResumeID: &unknown})
	assert.ErrorIs(t, err, apperrors.ErrInvalidResumeState)

	_, err = svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{ResumeID: &completed.ID})
	assert.ErrorIs(t, err, apperrors.ErrInvalidResumeState)

	_, err = svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{ResumeID: &pausedRulings.ID})
	assert.ErrorIs(t, err, apperrors.ErrInvalidResumeState)
}

func TestStartSync_StructuralStreamFailure(t *testing.T) {
	ids := seqIDs(6)
	body := cardBody(ids...)

	cards := newMockCardRepo()
	runs := newMockSyncRunRepo()
	bulk := newMockBulkClient()
	bulk.manifest = oracleCardsManifest(time.Now(), 1024)
	bulk.bodies[testBulkURI] = body
	// Cut the stream mid-record so the break is structural, not a malformed
	// line.
	bulk.brokenAfterBytes = strings.Index(body, `"print-oracle-005"`) + 5

	svc := newTestSync(cards, runs, bulk, 2)

	run, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{})
	require.Error(t, err)
	assert.Nil(t, run)

	// Exactly one run exists and it is failed with the cause recorded. The
	// checkpoint still reflects the last committed batch.
	require.Len(t, runs.runs, 1)
	for _, stored := range runs.runs {
		assert.Equal(t, models.SyncStatusFailed, stored.Status)
		require.NotNil(t, stored.ErrorMessage)
		assert.Contains(t, *stored.ErrorMessage, "bulk stream broke")
		assert.Equal(t, 4, stored.Processed)
		require.NotNil(t, stored.LastOracleID)
		assert.Equal(t, "oracle-004", *stored.LastOracleID)
	}

	assert.False(t, runs.lockHeld[models.DatasetOracleCards])
}

func TestStartSync_LockContention(t *testing.T) {
	runs := newMockSyncRunRepo()
	runs.lockHeld[models.DatasetOracleCards] = true

	svc := newTestSync(newMockCardRepo(), runs, newMockBulkClient(), 10)

	_, err := svc.StartSync(context.Background(), models.DatasetOracleCards, SyncOptions{})
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)

	// A different dataset is not blocked by the oracle-cards lock.
	bulk := newMockBulkClient()
	bulk.manifest = []scryfall.BulkDatum{
		{Type: string(models.DatasetRulings), UpdatedAt: time.Now(), Size: 1, DownloadURI: "https://bulk.test/rulings.json"},
	}
	bulk.bodies["https://bulk.test/rulings.json"] = "[\n]\n"
	svc = newTestSync(newMockCardRepo(), runs, bulk, 10)

	run, err := svc.StartSync(context.Background(), models.DatasetRulings, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, run.Status)
}

func TestStartSync_RulingsDataset(t *testing.T) {
	cards := newMockCardRepo()
	cards.seed(&models.Card{OracleID: "oracle-a", Name: "Card A"})

	body := "[\n" +
		`{"oracle_id": "oracle-a", "source": "wotc", "published_at": "2024-01-15", "comment": "First ruling."},` + "\n" +
		`{"oracle_id": "oracle-a", "source": "wotc", "published_at": "2024-02-01", "comment": "Second ruling."},` + "\n" +
		`{"oracle_id": "oracle-x", "source": "wotc", "published_at": "2024-03-01", "comment": "Card never synced."}` + "\n" +
		"]\n"

	runs := newMockSyncRunRepo()
	bulk := newMockBulkClient()
	bulk.manifest = []scryfall.BulkDatum{
		{Type: string(models.DatasetRulings), UpdatedAt: time.Now(), Size: int64(len(body)), DownloadURI: "https://bulk.test/rulings.json"},
	}
	bulk.bodies["https://bulk.test/rulings.json"] = body

	svc := newTestSync(cards, runs, bulk, 10)

	run, err := svc.StartSync(context.Background(), models.DatasetRulings, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 0, run.Failed)

	stored, err := cards.RulingsByOracleID(context.Background(), "oracle-a")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "First ruling.", stored[0].Comment)

	// Rulings never create cards.
	_, err = cards.GetByOracleID(context.Background(), "oracle-x")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStartSync_UnknownDataset(t *testing.T) {
	bulk := newMockBulkClient()
	bulk.manifest = oracleCardsManifest(time.Now(), 1024)

	svc := newTestSync(newMockCardRepo(), newMockSyncRunRepo(), bulk, 10)

	_, err := svc.StartSync(context.Background(), "tokens", SyncOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present in bulk manifest")
}

func TestLatestCompleted(t *testing.T) {
	runs := newMockSyncRunRepo()
	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-time.Hour)
	runs.runs[uuid.New()] = &models.SyncRun{
		ID: uuid.New(), DatasetType: models.DatasetOracleCards,
		Status: models.SyncStatusCompleted, CompletedAt: &older,
	}
	latest := &models.SyncRun{
		ID: uuid.New(), DatasetType: models.DatasetOracleCards,
		Status: models.SyncStatusCompleted, CompletedAt: &newer,
	}
	runs.runs[latest.ID] = latest

	svc := newTestSync(newMockCardRepo(), runs, newMockBulkClient(), 10)

	got, err := svc.LatestCompleted(context.Background(), models.DatasetOracleCards)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)

	_, err = svc.LatestCompleted(context.Background(), models.DatasetRulings)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
