package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/services"
)

// ============================================================================
// Mock Implementations for Handler Tests
// ============================================================================

type mockResolverService struct {
	resolveFunc     func(ctx context.Context, input string) (*services.ResolveResult, error)
	resolveManyFunc func(ctx context.Context, inputs []string) ([]*services.ResolveResult, error)

	resolveCalls     int
	resolveManyCalls int
	lastInputs       []string
}

func (m *mockResolverService) Resolve(ctx context.Context, input string) (*services.ResolveResult, error) {
	m.resolveCalls++
	m.lastInputs = []string{input}
	return m.resolveFunc(ctx, input)
}

func (m *mockResolverService) ResolveMany(ctx context.Context, inputs []string) ([]*services.ResolveResult, error) {
	m.resolveManyCalls++
	m.lastInputs = inputs
	return m.resolveManyFunc(ctx, inputs)
}

type mockSyncService struct {
	startFunc  func(ctx context.Context, datasetType models.DatasetType, opts services.SyncOptions) (*models.SyncRun, error)
	getFunc    func(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	latestFunc func(ctx context.Context, datasetType models.DatasetType) (*models.SyncRun, error)

	lastOpts services.SyncOptions
}

func (m *mockSyncService) StartSync(ctx context.Context, datasetType models.DatasetType, opts services.SyncOptions) (*models.SyncRun, error) {
	m.lastOpts = opts
	return m.startFunc(ctx, datasetType, opts)
}

func (m *mockSyncService) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	return m.getFunc(ctx, id)
}

func (m *mockSyncService) LatestCompleted(ctx context.Context, datasetType models.DatasetType) (*models.SyncRun, error) {
	return m.latestFunc(ctx, datasetType)
}

type mockAutocompleteClient struct {
	suggestions map[string][]string
	err         error
	calls       int
}

func (m *mockAutocompleteClient) Autocomplete(ctx context.Context, partial string) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.suggestions[partial], nil
}
