// Package postgres implements internal/quota.Repository against
// PostgreSQL via sqlx. Grounded on the teacher's sqlx repository idiom
// (internal/sales/infrastructure/persistence/postgres) and on
// original_source/backend/tests/test_quota_race_condition.py's
// atomic-RPC-with-upsert-fallback contract, expressed here as a single
// INSERT ... ON CONFLICT DO UPDATE ... WHERE ... RETURNING rather than a
// stored procedure —
// Postgres's UPSERT already gives the same atomicity without requiring
// a server-side function deployment step.
package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tjsasakifln/bidiq/internal/quota"
)

// Repository implements quota.Repository against PostgreSQL.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wires a postgres-backed quota.Repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

var _ quota.Repository = (*Repository)(nil)

// CheckAndIncrementQuota performs the atomic check-and-increment in one
// round trip: insert the (user_id, month_key) row at count 1 if absent,
// or bump an existing row only when it is still under maxQuota. The
// UPDATE's WHERE clause is the entire race-condition fix — two
// concurrent transactions can never both observe "count < maxQuota"
// and both win, because Postgres serializes the row-level UPDATE.
// maxQuota <= 0 means unlimited: the WHERE clause's `$3 <= 0` arm then
// always holds.
func (r *Repository) CheckAndIncrementQuota(ctx context.Context, userID uuid.UUID, monthKey string, maxQuota int) (bool, int, int, error) {
	var newCount int

	query := `
		INSERT INTO monthly_quota (user_id, month_key, searches_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, month_key) DO UPDATE
		SET searches_count = monthly_quota.searches_count + 1
		WHERE $3 <= 0 OR monthly_quota.searches_count < $3
		RETURNING searches_count`

	err := sqlx.GetContext(ctx, r.db, &newCount, query, userID, monthKey, maxQuota)
	if err == sql.ErrNoRows {
		// The conflicting row exists but was already at maxQuota, so the
		// UPDATE's WHERE clause excluded it and nothing was returned.
		var currentCount int
		selErr := sqlx.GetContext(ctx, r.db, &currentCount, `
			SELECT searches_count FROM monthly_quota WHERE user_id = $1 AND month_key = $2`,
			userID, monthKey)
		if selErr != nil {
			return false, 0, 0, selErr
		}
		return false, currentCount, 0, nil
	}
	if err != nil {
		return false, 0, 0, err
	}

	remaining := 0
	if maxQuota > 0 {
		remaining = maxQuota - newCount
		if remaining < 0 {
			remaining = 0
		}
	}
	return true, newCount, remaining, nil
}

// subscriptionRow is the sqlx-tagged row shape of user_subscriptions
// joined with profiles, matching spec.md's literal table names.
type subscriptionRow struct {
	UserID         uuid.UUID      `db:"user_id"`
	PlanID         string         `db:"plan_id"`
	IsAdmin        bool           `db:"is_admin"`
	TrialExpiresAt sql.NullTime   `db:"trial_expires_at"`
}

func (r *Repository) GetSubscription(ctx context.Context, userID uuid.UUID) (*quota.Subscription, error) {
	var row subscriptionRow
	query := `
		SELECT s.user_id, s.plan_id, p.is_admin, s.trial_expires_at
		FROM user_subscriptions s
		JOIN profiles p ON p.user_id = s.user_id
		WHERE s.user_id = $1`
	err := sqlx.GetContext(ctx, r.db, &row, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sub := &quota.Subscription{
		UserID:  row.UserID,
		PlanID:  quota.PlanID(row.PlanID),
		IsAdmin: row.IsAdmin,
	}
	if row.TrialExpiresAt.Valid {
		sub.TrialExpiresAt = &row.TrialExpiresAt.Time
	}
	return sub, nil
}
