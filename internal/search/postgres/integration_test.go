//go:build integration

// Package postgres contains PostgreSQL repository integration tests for
// the search service, run against a real container (skipped via
// testing.Short()) the way the teacher's sales repository tests are.
package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjsasakifln/bidiq/internal/search"
	"github.com/tjsasakifln/bidiq/internal/statemachine"
	"github.com/tjsasakifln/bidiq/pkg/logger"
	"github.com/tjsasakifln/bidiq/pkg/testing/containers"
)

var (
	testDB   *containers.PostgresContainer
	repo     *Repository
	testCtx  context.Context
)

func TestMain(m *testing.M) {
	if testing.Short() {
		os.Exit(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	testCtx = ctx

	var err error
	testDB, err = containers.NewPostgresContainer(ctx, containers.DefaultPostgresConfig())
	if err != nil {
		panic("failed to create PostgreSQL container: " + err.Error())
	}

	if err := runTestMigrations(ctx, testDB.DB); err != nil {
		panic("failed to run migrations: " + err.Error())
	}

	repo = NewRepository(testDB.DB, logger.Global())

	code := m.Run()

	if testDB != nil {
		testDB.Close()
	}
	os.Exit(code)
}

func runTestMigrations(ctx context.Context, db *sqlx.DB) error {
	migration := `
	CREATE TABLE IF NOT EXISTS search_sessions (
		search_id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		status VARCHAR(50) NOT NULL,
		pipeline_stage VARCHAR(100),
		inputs JSONB NOT NULL DEFAULT '{}',
		started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMP WITH TIME ZONE,
		error_code VARCHAR(100),
		error_message TEXT,
		total_raw INT NOT NULL DEFAULT 0,
		total_filtered INT NOT NULL DEFAULT 0,
		valor_total NUMERIC NOT NULL DEFAULT 0,
		resumo_executivo TEXT,
		destaques TEXT[] NOT NULL DEFAULT '{}',
		ufs_total INT NOT NULL DEFAULT 0,
		ufs_completed INT NOT NULL DEFAULT 0,
		ufs_failed INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS search_state_transitions (
		id SERIAL PRIMARY KEY,
		search_id UUID NOT NULL REFERENCES search_sessions(search_id) ON DELETE CASCADE,
		from_state VARCHAR(50),
		to_state VARCHAR(50) NOT NULL,
		stage VARCHAR(100),
		details JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		duration_since_previous_ms BIGINT
	);`
	_, err := db.ExecContext(ctx, migration)
	return err
}

func newTestSearch() *search.Search {
	return &search.Search{
		SearchID:  uuid.New(),
		UserID:    uuid.New(),
		Status:    statemachine.StateCreated,
		StartedAt: time.Now(),
		Inputs:    search.Inputs{Sectors: []string{"construcao"}, UFs: []string{"SP", "RJ"}},
	}
}

func TestRepository_CreateAndGetByID(t *testing.T) {
	s := newTestSearch()
	require.NoError(t, repo.Create(testCtx, s))

	got, err := repo.GetByID(testCtx, s.SearchID)
	require.NoError(t, err)
	assert.Equal(t, s.SearchID, got.SearchID)
	assert.Equal(t, statemachine.StateCreated, got.Status)
	assert.Equal(t, []string{"construcao"}, got.Inputs.Sectors)
}

func TestRepository_UpdateStateAndResults(t *testing.T) {
	s := newTestSearch()
	require.NoError(t, repo.Create(testCtx, s))

	require.NoError(t, repo.UpdateState(testCtx, s.SearchID, statemachine.StateFetching, "fetch", nil))
	require.NoError(t, repo.UpdateResults(testCtx, s.SearchID, 120, 18, 4500000.50))

	got, err := repo.GetByID(testCtx, s.SearchID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StateFetching, got.Status)
	assert.Equal(t, 120, got.TotalRaw)
	assert.Equal(t, 18, got.TotalFiltered)
}

func TestRepository_AppendTransitionAndGetTimeline(t *testing.T) {
	s := newTestSearch()
	require.NoError(t, repo.Create(testCtx, s))

	m := statemachine.New(s.SearchID.String())
	t1, _ := m.TransitionTo(statemachine.StateCreated, "", nil)
	t2, _ := m.TransitionTo(statemachine.StateValidating, "validate", nil)
	require.NoError(t, repo.AppendTransition(testCtx, t1))
	require.NoError(t, repo.AppendTransition(testCtx, t2))

	timeline, err := repo.GetTimeline(testCtx, s.SearchID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, statemachine.StateValidating, timeline[1].ToState)

	current, err := repo.GetCurrentTransition(testCtx, s.SearchID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StateValidating, current.ToState)
}

func TestRepository_GetStatus(t *testing.T) {
	s := newTestSearch()
	s.UFsTotal = 5
	s.UFsCompleted = 2
	require.NoError(t, repo.Create(testCtx, s))

	status, err := repo.GetStatus(testCtx, s.SearchID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StateCreated, status.State)
	assert.Equal(t, 0, status.Progress)
	assert.Equal(t, 5, status.UFsTotal)
	assert.Equal(t, 2, status.UFsCompleted)
}

func TestRepository_RecoverStaleSearches(t *testing.T) {
	stale := newTestSearch()
	stale.StartedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.Create(testCtx, stale))

	fresh := newTestSearch()
	require.NoError(t, repo.Create(testCtx, fresh))

	n, err := repo.RecoverStaleSearches(testCtx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetByID(testCtx, stale.SearchID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StateTimedOut, got.Status)

	freshGot, err := repo.GetByID(testCtx, fresh.SearchID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StateCreated, freshGot.Status)
}
