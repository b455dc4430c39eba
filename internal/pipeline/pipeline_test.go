package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjsasakifln/bidiq/internal/consolidation"
	"github.com/tjsasakifln/bidiq/internal/domain"
	"github.com/tjsasakifln/bidiq/internal/filter"
	"github.com/tjsasakifln/bidiq/internal/progress"
	"github.com/tjsasakifln/bidiq/internal/quota"
	"github.com/tjsasakifln/bidiq/internal/search"
	"github.com/tjsasakifln/bidiq/internal/source"
	"github.com/tjsasakifln/bidiq/internal/statemachine"
	"github.com/tjsasakifln/bidiq/pkg/config"
)

// fakeAdapter is a minimal source.Adapter, mirroring
// internal/consolidation's own test fake.
type fakeAdapter struct {
	meta  source.Metadata
	items []source.FetchedItem
	err   error
}

func (f *fakeAdapter) Metadata() source.Metadata { return f.meta }

func (f *fakeAdapter) Fetch(ctx context.Context, q source.Query) ([]source.FetchedItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) source.Status { return source.StatusAvailable }

// fakeQuotaRepo mirrors internal/quota's own test fake.
type fakeQuotaRepo struct {
	allowed   bool
	remaining int
}

func (f *fakeQuotaRepo) CheckAndIncrementQuota(ctx context.Context, userID uuid.UUID, monthKey string, maxQuota int) (bool, int, int, error) {
	return f.allowed, 1, f.remaining, nil
}

func (f *fakeQuotaRepo) GetSubscription(ctx context.Context, userID uuid.UUID) (*quota.Subscription, error) {
	return &quota.Subscription{UserID: userID, PlanID: quota.PlanFree}, nil
}

// fakeSearchRepo is an in-memory search.Repository recording every call
// the orchestrator makes, for assertions against the persisted shape.
type fakeSearchRepo struct {
	created     *search.Search
	transitions []statemachine.Transition
	states      []statemachine.State
	summary     string
	destaques   []string
}

func (f *fakeSearchRepo) Create(ctx context.Context, s *search.Search) error {
	f.created = s
	return nil
}

func (f *fakeSearchRepo) GetByID(ctx context.Context, searchID uuid.UUID) (*search.Search, error) {
	return f.created, nil
}

func (f *fakeSearchRepo) UpdateState(ctx context.Context, searchID uuid.UUID, state statemachine.State, stage string, completedAt *time.Time) error {
	f.states = append(f.states, state)
	return nil
}

func (f *fakeSearchRepo) UpdateResults(ctx context.Context, searchID uuid.UUID, totalRaw, totalFiltered int, valorTotal float64) error {
	return nil
}

func (f *fakeSearchRepo) UpdateSummary(ctx context.Context, searchID uuid.UUID, resumoExecutivo string, destaques []string) error {
	f.summary = resumoExecutivo
	f.destaques = destaques
	return nil
}

func (f *fakeSearchRepo) AppendTransition(ctx context.Context, t statemachine.Transition) error {
	f.transitions = append(f.transitions, t)
	return nil
}

func (f *fakeSearchRepo) GetTimeline(ctx context.Context, searchID uuid.UUID) ([]statemachine.Transition, error) {
	return f.transitions, nil
}

func (f *fakeSearchRepo) GetCurrentTransition(ctx context.Context, searchID uuid.UUID) (*statemachine.Transition, error) {
	if len(f.transitions) == 0 {
		return nil, nil
	}
	return &f.transitions[len(f.transitions)-1], nil
}

func (f *fakeSearchRepo) GetStatus(ctx context.Context, searchID uuid.UUID) (*search.Status, error) {
	return nil, nil
}

func (f *fakeSearchRepo) RecoverStaleSearches(ctx context.Context, maxAge time.Duration) (int, error) {
	return 0, nil
}

// fakeArchiveStore records every Archive call and signals archived on
// each one, letting tests synchronize with archiveItems' goroutine.
type fakeArchiveStore struct {
	mu       sync.Mutex
	calls    [][]*domain.UnifiedProcurement
	archived chan struct{}
}

func newFakeArchiveStore() *fakeArchiveStore {
	return &fakeArchiveStore{archived: make(chan struct{}, 8)}
}

func (f *fakeArchiveStore) Archive(ctx context.Context, searchID string, items []*domain.UnifiedProcurement) error {
	f.mu.Lock()
	f.calls = append(f.calls, items)
	f.mu.Unlock()
	f.archived <- struct{}{}
	return nil
}

func newTestOrchestrator(t *testing.T, adapter source.Adapter, quotaAllowed bool) (*Orchestrator, *fakeSearchRepo) {
	t.Helper()
	orch, repo, _ := newTestOrchestratorWithArchive(t, adapter, quotaAllowed, nil)
	return orch, repo
}

func newTestOrchestratorWithArchive(t *testing.T, adapter source.Adapter, quotaAllowed bool, archive ArchiveStore) (*Orchestrator, *fakeSearchRepo, *fakeArchiveStore) {
	t.Helper()

	registry := source.NewRegistry(map[string]source.Adapter{adapter.Metadata().Code: adapter})
	consolidationEngine := consolidation.NewEngine(registry, nil, consolidation.DefaultConfig(), nil)
	filterEngine := filter.NewEngine(nil, nil)
	sectors := NewStaticSectorCatalog()
	quotaSvc := quota.NewService(&fakeQuotaRepo{allowed: quotaAllowed, remaining: 9}, nil, nil)
	repo := &fakeSearchRepo{}
	progressRegistry := progress.NewRegistry(nil, nil)
	summarizer := NewSummarizer("", SummaryConfig{Enabled: false}, nil)
	notifier := NewNotifier(config.AMQPConfig{}, nil)

	fake, _ := archive.(*fakeArchiveStore)
	orch := NewOrchestrator(consolidationEngine, filterEngine, sectors, quotaSvc, repo, progressRegistry, summarizer, notifier, archive, 10*time.Second, nil)
	return orch, repo, fake
}

func TestRun_HappyPath_PersistsCompletedSearch(t *testing.T) {
	adapter := &fakeAdapter{
		meta: source.Metadata{Name: "PNCP", Code: "PNCP", Priority: 1},
		items: []source.FetchedItem{
			{SourceID: "1", Raw: map[string]interface{}{
				"numeroControlePNCP": "1", "objetoCompra": "uniformes escolares diversos",
				"orgaoEntidadeRazaoSocial": "Prefeitura", "unidadeOrgaoUfSigla": "SP",
				"valorTotalEstimado": "3000000", "anoCompra": "2026",
			}},
		},
	}
	orch, repo := newTestOrchestrator(t, adapter, true)

	result, err := orch.Run(context.Background(), Request{
		UserID:      uuid.New(),
		UFs:         []string{"SP"},
		CustomTerms: []string{"uniformes"},
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, statemachine.StateCompleted, result.Status)
	assert.Equal(t, statemachine.StateCompleted, repo.states[len(repo.states)-1])
	assert.Equal(t, 1, result.TotalFiltered)
	assert.NotEmpty(t, repo.summary)
}

func TestRun_InvalidUF_FailsBeforeFetch(t *testing.T) {
	adapter := &fakeAdapter{meta: source.Metadata{Name: "PNCP", Code: "PNCP", Priority: 1}}
	orch, repo := newTestOrchestrator(t, adapter, true)

	result, err := orch.Run(context.Background(), Request{
		UserID:      uuid.New(),
		UFs:         []string{"XX"},
		CustomTerms: []string{"uniforme"},
	})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, statemachine.StateFailed, repo.states[len(repo.states)-1])
}

func TestRun_QuotaExceeded_MarksRateLimited(t *testing.T) {
	adapter := &fakeAdapter{meta: source.Metadata{Name: "PNCP", Code: "PNCP", Priority: 1}}
	orch, repo := newTestOrchestrator(t, adapter, false)

	result, err := orch.Run(context.Background(), Request{
		UserID:      uuid.New(),
		UFs:         []string{"SP"},
		CustomTerms: []string{"uniforme"},
	})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, statemachine.StateRateLimited, repo.states[len(repo.states)-1])
}

func TestRun_AllSourcesFailed_MarksFailed(t *testing.T) {
	adapter := &fakeAdapter{meta: source.Metadata{Name: "PNCP", Code: "PNCP", Priority: 1}, err: assertError("boom")}
	orch, repo := newTestOrchestrator(t, adapter, true)

	result, err := orch.Run(context.Background(), Request{
		UserID:      uuid.New(),
		UFs:         []string{"SP"},
		CustomTerms: []string{"uniforme"},
	})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, statemachine.StateFailed, repo.states[len(repo.states)-1])
}

func TestRun_HappyPath_ArchivesFilteredItems(t *testing.T) {
	adapter := &fakeAdapter{
		meta: source.Metadata{Name: "PNCP", Code: "PNCP", Priority: 1},
		items: []source.FetchedItem{
			{SourceID: "1", Raw: map[string]interface{}{
				"numeroControlePNCP": "1", "objetoCompra": "uniformes escolares diversos",
				"orgaoEntidadeRazaoSocial": "Prefeitura", "unidadeOrgaoUfSigla": "SP",
				"valorTotalEstimado": "3000000", "anoCompra": "2026",
			}},
		},
	}
	archive := newFakeArchiveStore()
	orch, _, archive := newTestOrchestratorWithArchive(t, adapter, true, archive)

	result, err := orch.Run(context.Background(), Request{
		UserID:      uuid.New(),
		UFs:         []string{"SP"},
		CustomTerms: []string{"uniformes"},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	select {
	case <-archive.archived:
	case <-time.After(2 * time.Second):
		t.Fatal("archive.Archive was never called")
	}

	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.calls, 1)
	assert.Len(t, archive.calls[0], 1)
}

type assertError string

func (e assertError) Error() string { return string(e) }
