package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tjsasakifln/bidiq/internal/search"
	"github.com/tjsasakifln/bidiq/internal/statemachine"
	"github.com/tjsasakifln/bidiq/pkg/logger"
)

// searchRow is the sqlx-tagged row shape of the search_sessions table,
// grounded on the teacher's leadRow pattern (lead_repository.go) of a
// flat DB struct separate from the domain aggregate.
type searchRow struct {
	SearchID        uuid.UUID      `db:"search_id"`
	UserID          uuid.UUID      `db:"user_id"`
	Status          string         `db:"status"`
	PipelineStage   sql.NullString `db:"pipeline_stage"`
	Inputs          []byte         `db:"inputs"`
	StartedAt       time.Time      `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	ErrorCode       sql.NullString `db:"error_code"`
	ErrorMessage    sql.NullString `db:"error_message"`
	TotalRaw        int            `db:"total_raw"`
	TotalFiltered   int            `db:"total_filtered"`
	ValorTotal      float64        `db:"valor_total"`
	ResumoExecutivo sql.NullString `db:"resumo_executivo"`
	Destaques       pq.StringArray `db:"destaques"`
	UFsTotal        int            `db:"ufs_total"`
	UFsCompleted    int            `db:"ufs_completed"`
	UFsFailed       int            `db:"ufs_failed"`
}

// transitionRow is the sqlx-tagged row shape of search_state_transitions,
// per spec.md's literal schema naming (search_id, from_state, to_state).
type transitionRow struct {
	ID                      int64          `db:"id"`
	SearchID                uuid.UUID      `db:"search_id"`
	FromState               sql.NullString `db:"from_state"`
	ToState                 string         `db:"to_state"`
	Stage                   sql.NullString `db:"stage"`
	Details                 []byte         `db:"details"`
	Timestamp               time.Time      `db:"timestamp"`
	DurationSincePreviousMS sql.NullInt64  `db:"duration_since_previous_ms"`
}

func (r transitionRow) toDomain() statemachine.Transition {
	var details map[string]interface{}
	if len(r.Details) > 0 {
		_ = json.Unmarshal(r.Details, &details)
	}
	t := statemachine.Transition{
		SearchID:  r.SearchID.String(),
		ToState:   statemachine.State(r.ToState),
		Timestamp: r.Timestamp,
		Details:   details,
	}
	if r.FromState.Valid {
		t.FromState = statemachine.State(r.FromState.String)
	}
	if r.Stage.Valid {
		t.Stage = r.Stage.String
	}
	if r.DurationSincePreviousMS.Valid {
		d := r.DurationSincePreviousMS.Int64
		t.DurationSincePreviousMS = &d
	}
	return t
}

// Repository implements search.Repository against PostgreSQL via sqlx,
// adapted from the teacher's lead_repository.go.
type Repository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewRepository wires a postgres-backed search.Repository.
func NewRepository(db *sqlx.DB, log *logger.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "search_repository").Logger()}
}

var _ search.Repository = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, s *search.Search) error {
	inputsJSON, err := json.Marshal(s.Inputs)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO search_sessions (
			search_id, user_id, status, pipeline_stage, inputs, started_at,
			total_raw, total_filtered, valor_total, ufs_total, ufs_completed, ufs_failed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		s.SearchID, s.UserID, string(s.Status), nullString(s.PipelineStage), inputsJSON, s.StartedAt,
		s.TotalRaw, s.TotalFiltered, s.ValorTotal, s.UFsTotal, s.UFsCompleted, s.UFsFailed,
	)
	return err
}

func (r *Repository) GetByID(ctx context.Context, searchID uuid.UUID) (*search.Search, error) {
	var row searchRow
	query := `
		SELECT search_id, user_id, status, pipeline_stage, inputs, started_at,
		       completed_at, error_code, error_message, total_raw, total_filtered,
		       valor_total, resumo_executivo, destaques, ufs_total, ufs_completed, ufs_failed
		FROM search_sessions WHERE search_id = $1`
	if err := sqlx.GetContext(ctx, getExecutor(ctx, r.db), &row, query, searchID); err != nil {
		return nil, err
	}

	var inputs search.Inputs
	if len(row.Inputs) > 0 {
		if err := json.Unmarshal(row.Inputs, &inputs); err != nil {
			return nil, err
		}
	}

	s := &search.Search{
		SearchID:        row.SearchID,
		UserID:          row.UserID,
		Inputs:          inputs,
		Status:          statemachine.State(row.Status),
		StartedAt:       row.StartedAt,
		TotalRaw:        row.TotalRaw,
		TotalFiltered:   row.TotalFiltered,
		ValorTotal:      row.ValorTotal,
		Destaques:       []string(row.Destaques),
		UFsTotal:        row.UFsTotal,
		UFsCompleted:    row.UFsCompleted,
		UFsFailed:       row.UFsFailed,
		CompletedAt:     NullTime{row.CompletedAt}.TimePtr(),
		PipelineStage:   row.PipelineStage.String,
		ErrorCode:       row.ErrorCode.String,
		ErrorMessage:    row.ErrorMessage.String,
		ResumoExecutivo: row.ResumoExecutivo.String,
	}
	return s, nil
}

func (r *Repository) UpdateState(ctx context.Context, searchID uuid.UUID, state statemachine.State, stage string, completedAt *time.Time) error {
	query := `
		UPDATE search_sessions
		SET status = $2, pipeline_stage = $3, completed_at = $4
		WHERE search_id = $1`
	res, err := getExecutor(ctx, r.db).ExecContext(ctx, query, searchID, string(state), nullString(stage), NewNullTime(completedAt))
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *Repository) UpdateResults(ctx context.Context, searchID uuid.UUID, totalRaw, totalFiltered int, valorTotal float64) error {
	query := `
		UPDATE search_sessions
		SET total_raw = $2, total_filtered = $3, valor_total = $4
		WHERE search_id = $1`
	res, err := getExecutor(ctx, r.db).ExecContext(ctx, query, searchID, totalRaw, totalFiltered, valorTotal)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *Repository) UpdateSummary(ctx context.Context, searchID uuid.UUID, resumoExecutivo string, destaques []string) error {
	query := `
		UPDATE search_sessions
		SET resumo_executivo = $2, destaques = $3
		WHERE search_id = $1`
	res, err := getExecutor(ctx, r.db).ExecContext(ctx, query, searchID, resumoExecutivo, pq.StringArray(destaques))
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *Repository) AppendTransition(ctx context.Context, t statemachine.Transition) error {
	searchID, err := uuid.Parse(t.SearchID)
	if err != nil {
		return err
	}
	var detailsJSON []byte
	if t.Details != nil {
		if detailsJSON, err = json.Marshal(t.Details); err != nil {
			return err
		}
	}
	var fromState sql.NullString
	if t.FromState != "" {
		fromState = sql.NullString{String: string(t.FromState), Valid: true}
	}
	query := `
		INSERT INTO search_state_transitions (
			search_id, from_state, to_state, stage, details, timestamp, duration_since_previous_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		searchID, fromState, string(t.ToState), nullString(t.Stage), detailsJSON, t.Timestamp, t.DurationSincePreviousMS,
	)
	return err
}

func (r *Repository) GetTimeline(ctx context.Context, searchID uuid.UUID) ([]statemachine.Transition, error) {
	var rows []transitionRow
	query := `
		SELECT id, search_id, from_state, to_state, stage, details, timestamp, duration_since_previous_ms
		FROM search_state_transitions
		WHERE search_id = $1
		ORDER BY timestamp ASC`
	if err := sqlx.SelectContext(ctx, getExecutor(ctx, r.db), &rows, query, searchID); err != nil {
		return nil, err
	}
	transitions := make([]statemachine.Transition, 0, len(rows))
	for _, row := range rows {
		transitions = append(transitions, row.toDomain())
	}
	return transitions, nil
}

func (r *Repository) GetCurrentTransition(ctx context.Context, searchID uuid.UUID) (*statemachine.Transition, error) {
	var row transitionRow
	query := `
		SELECT id, search_id, from_state, to_state, stage, details, timestamp, duration_since_previous_ms
		FROM search_state_transitions
		WHERE search_id = $1
		ORDER BY timestamp DESC
		LIMIT 1`
	if err := sqlx.GetContext(ctx, getExecutor(ctx, r.db), &row, query, searchID); err != nil {
		return nil, err
	}
	t := row.toDomain()
	return &t, nil
}

func (r *Repository) GetStatus(ctx context.Context, searchID uuid.UUID) (*search.Status, error) {
	s, err := r.GetByID(ctx, searchID)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(s.StartedAt)
	if s.CompletedAt != nil {
		elapsed = s.CompletedAt.Sub(s.StartedAt)
	}
	return &search.Status{
		SearchID:     s.SearchID.String(),
		State:        s.Status,
		Progress:     statemachine.EstimateProgress(s.Status),
		Stage:        s.PipelineStage,
		StartedAt:    s.StartedAt,
		ElapsedMS:    elapsed.Milliseconds(),
		UFsCompleted: s.UFsCompleted,
		UFsTotal:     s.UFsTotal,
		UFsFailed:    s.UFsFailed,
		ErrorMessage: s.ErrorMessage,
		ErrorCode:    s.ErrorCode,
	}, nil
}

// RecoverStaleSearches marks every non-terminal search older than maxAge
// as timed_out. Grounded on
// original_source/backend/search_state_manager.py's recover_stale_searches:
// on older schemas missing search_id/status/started_at (postgres error
// code 42703, undefined_column) it falls back to deleting the rows whose
// created_at is older than the cutoff rather than leaving them stuck
// forever. Non-terminal searches newer than maxAge are left unchanged.
func (r *Repository) RecoverStaleSearches(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	query := `
		UPDATE search_sessions
		SET status = $1, error_code = 'stale_recovery', error_message = 'Recovered as timed out on startup'
		WHERE status NOT IN ($2, $3, $4, $5) AND started_at < $6`
	res, err := r.db.ExecContext(ctx, query,
		string(statemachine.StateTimedOut),
		string(statemachine.StateCompleted), string(statemachine.StateFailed),
		string(statemachine.StateRateLimited), string(statemachine.StateTimedOut),
		cutoff,
	)
	if err != nil {
		if isUndefinedColumn(err) {
			return r.recoverStaleSearchesLegacy(ctx, cutoff)
		}
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Warn().Int64("count", n).Msg("recovered stale searches on startup")
	}
	return int(n), nil
}

// recoverStaleSearchesLegacy handles a schema predating the status/
// started_at columns: it can only identify rows by created_at, and
// since it has no status column to set, it deletes the stale rows
// instead of updating them.
func (r *Repository) recoverStaleSearchesLegacy(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM search_sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Warn().Int64("count", n).Msg("deleted stale search rows on legacy schema")
	}
	return int(n), nil
}

func isUndefinedColumn(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42703"
	}
	return false
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
