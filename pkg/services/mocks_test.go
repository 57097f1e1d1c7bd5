package services

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/normalize"
	"github.com/arbiter-ai/arbiter-engine/pkg/scryfall"
)

// ============================================================================
// Mock Implementations for Resolver and Sync Service Tests
// ============================================================================

type mockCardRepo struct {
	cards   map[string]*models.Card      // by oracle id
	byNorm  map[string]string            // normalized name -> oracle id
	rulings map[string][]models.Ruling   // by oracle id

	upsertErr   error
	upsertCalls int

	// failOracleIDs makes Upsert fail for specific records, simulating
	// per-record constraint violations.
	failOracleIDs map[string]bool
}

func newMockCardRepo() *mockCardRepo {
	return &mockCardRepo{
		cards:   make(map[string]*models.Card),
		byNorm:  make(map[string]string),
		rulings: make(map[string][]models.Ruling),
	}
}

// seed stores a card and indexes it under its derived normalized name.
func (m *mockCardRepo) seed(card *models.Card) {
	card.Renormalize()
	m.cards[card.OracleID] = card
	m.byNorm[card.NormalizedName] = card.OracleID
}

func (m *mockCardRepo) Upsert(ctx context.Context, card *models.Card) error {
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.failOracleIDs[card.OracleID] {
		return apperrors.ErrConflict
	}
	m.seed(card)
	return nil
}

func (m *mockCardRepo) GetByOracleID(ctx context.Context, oracleID string) (*models.Card, error) {
	card, ok := m.cards[oracleID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return card, nil
}

func (m *mockCardRepo) GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Card, error) {
	oracleID, ok := m.byNorm[normalizedName]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return m.cards[oracleID], nil
}

func (m *mockCardRepo) FindFaceByNormalizedName(ctx context.Context, normalizedName string) (*models.CardFace, error) {
	ids := make([]string, 0, len(m.cards))
	for id := range m.cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, face := range m.cards[id].Faces {
			if face.NormalizedName == normalizedName {
				f := face
				return &f, nil
			}
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockCardRepo) SearchByNormalizedPrefix(ctx context.Context, prefix string, limit int) ([]models.CardCandidate, error) {
	norms := make([]string, 0, len(m.byNorm))
	for norm := range m.byNorm {
		if strings.HasPrefix(norm, prefix) {
			norms = append(norms, norm)
		}
	}
	sort.Strings(norms)

	var out []models.CardCandidate
	for _, norm := range norms {
		if len(out) >= limit {
			break
		}
		card := m.cards[m.byNorm[norm]]
		typeLine := ""
		if card.TypeLine != nil {
			typeLine = *card.TypeLine
		}
		out = append(out, models.CardCandidate{
			OracleID: card.OracleID,
			Name:     card.Name,
			TypeLine: typeLine,
		})
	}
	return out, nil
}

func (m *mockCardRepo) ReplaceRulings(ctx context.Context, oracleID string, rulings []models.Ruling) error {
	if _, ok := m.cards[oracleID]; !ok {
		return apperrors.ErrNotFound
	}
	m.rulings[oracleID] = rulings
	return nil
}

func (m *mockCardRepo) RulingsByOracleID(ctx context.Context, oracleID string) ([]models.Ruling, error) {
	return m.rulings[oracleID], nil
}

// ----------------------------------------------------------------------------

type mockSyncRunRepo struct {
	runs map[uuid.UUID]*models.SyncRun

	// lockHeld simulates another holder of the per-dataset advisory lock.
	lockHeld map[models.DatasetType]bool

	checkpointSaves int
}

func newMockSyncRunRepo() *mockSyncRunRepo {
	return &mockSyncRunRepo{
		runs:     make(map[uuid.UUID]*models.SyncRun),
		lockHeld: make(map[models.DatasetType]bool),
	}
}

func (m *mockSyncRunRepo) Create(ctx context.Context, run *models.SyncRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.StartedAt = time.Now()
	run.UpdatedAt = run.StartedAt
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *mockSyncRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (m *mockSyncRunRepo) LatestCompleted(ctx context.Context, datasetType models.DatasetType) (*models.SyncRun, error) {
	var latest *models.SyncRun
	for _, run := range m.runs {
		if run.DatasetType != datasetType || run.Status != models.SyncStatusCompleted {
			continue
		}
		if latest == nil || (run.CompletedAt != nil && latest.CompletedAt != nil && run.CompletedAt.After(*latest.CompletedAt)) {
			latest = run
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (m *mockSyncRunRepo) Update(ctx context.Context, run *models.SyncRun) error {
	if _, ok := m.runs[run.ID]; !ok {
		return apperrors.ErrNotFound
	}
	run.UpdatedAt = time.Now()
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *mockSyncRunRepo) SaveCheckpoint(ctx context.Context, id uuid.UUID, processed, failed int, lastOracleID *string) error {
	run, ok := m.runs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	m.checkpointSaves++
	run.Processed = processed
	run.Failed = failed
	run.LastOracleID = lastOracleID
	run.UpdatedAt = time.Now()
	return nil
}

func (m *mockSyncRunRepo) AcquireDatasetLock(ctx context.Context, datasetType models.DatasetType) (func(), bool, error) {
	if m.lockHeld[datasetType] {
		return nil, false, nil
	}
	m.lockHeld[datasetType] = true
	return func() { m.lockHeld[datasetType] = false }, true, nil
}

// ----------------------------------------------------------------------------

type mockCatalogClient struct {
	// remote maps normalized names to wire cards for fuzzy lookup.
	remote  map[string]*scryfall.Card
	rulings map[string][]scryfall.Ruling

	cardByNameErr error
	rulingsErr    error

	cardByNameCalls int
}

func newMockCatalogClient() *mockCatalogClient {
	return &mockCatalogClient{
		remote:  make(map[string]*scryfall.Card),
		rulings: make(map[string][]scryfall.Ruling),
	}
}

func (m *mockCatalogClient) CardByName(ctx context.Context, name string, fuzzy bool) (*scryfall.Card, error) {
	m.cardByNameCalls++
	if m.cardByNameErr != nil {
		return nil, m.cardByNameErr
	}
	card, ok := m.remote[normalize.Normalize(name)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return card, nil
}

func (m *mockCatalogClient) Rulings(ctx context.Context, cardID string) ([]scryfall.Ruling, error) {
	if m.rulingsErr != nil {
		return nil, m.rulingsErr
	}
	rulings, ok := m.rulings[cardID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return rulings, nil
}

// ----------------------------------------------------------------------------

type mockBulkClient struct {
	manifest    []scryfall.BulkDatum
	manifestErr error

	// bodies maps download URIs to stream contents.
	bodies map[string]string

	// brokenAfterBytes, when positive, makes the stream fail after that
	// many bytes instead of reaching EOF.
	brokenAfterBytes int

	openCalls int
}

func newMockBulkClient() *mockBulkClient {
	return &mockBulkClient{bodies: make(map[string]string)}
}

func (m *mockBulkClient) BulkData(ctx context.Context) ([]scryfall.BulkDatum, error) {
	if m.manifestErr != nil {
		return nil, m.manifestErr
	}
	return m.manifest, nil
}

func (m *mockBulkClient) OpenBulkStream(ctx context.Context, downloadURI string) (io.ReadCloser, error) {
	m.openCalls++
	body, ok := m.bodies[downloadURI]
	if !ok {
		return nil, &scryfall.Error{StatusCode: 404, Message: "no such blob"}
	}
	if m.brokenAfterBytes > 0 && m.brokenAfterBytes < len(body) {
		return io.NopCloser(io.MultiReader(
			strings.NewReader(body[:m.brokenAfterBytes]),
			&failingReader{},
		)), nil
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type failingReader struct{}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
