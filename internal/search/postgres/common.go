// Package postgres implements internal/search.Repository against
// PostgreSQL via sqlx, adapted from the teacher's sales/infrastructure/
// persistence/postgres package (common.go's getExecutor/NullTime/
// IsNotFoundError helpers kept verbatim; the transaction manager and
// query builder are trimmed since this repository has no multi-table
// filtered listing to build).
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

func getTxFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

func getExecutor(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := getTxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// NullTime wraps sql.NullTime for convenient pointer conversion.
type NullTime struct {
	sql.NullTime
}

func (nt NullTime) TimePtr() *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

func NewNullTime(t *time.Time) NullTime {
	if t == nil {
		return NullTime{sql.NullTime{Valid: false}}
	}
	return NullTime{sql.NullTime{Time: *t, Valid: true}}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// IsNotFoundError reports whether err is sqlx's no-rows sentinel.
func IsNotFoundError(err error) bool {
	return err == sql.ErrNoRows
}
