// Package store persists tasks and scripts in a SQL database. Every store
// works on a caller-supplied DBTX, so operations run either directly on the
// connection pool or inside a transaction the caller controls.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/taskd/internal/model"
)

// Pagination defaults and bounds.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var (
	// ErrNotFound is returned when a task or script is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOffset is returned when an output read starts before zero.
	ErrInvalidOffset = errors.New("invalid output offset")
)

// DBTX is implemented by both *sql.DB and *sql.Tx, allowing the stores to
// work with either a database connection or a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Pagination selects one page of a listing. Zero values fall back to the
// defaults.
type Pagination struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

func (p Pagination) normalize() Pagination {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Pagination) limitOffset() (int, int) {
	return p.Size, (p.Page - 1) * p.Size
}

// Page is one page of a listing along with the total number of matches.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
}

// TaskFilter narrows a task listing. Text matches a substring of the id,
// name, detail or output. The creation range bounds are inclusive unix
// milliseconds; zero disables a bound.
type TaskFilter struct {
	Text        string
	CreatedFrom int64
	CreatedTo   int64
	Pagination
}

// ScriptFilter narrows a script listing. Text matches a substring of the id
// or name.
type ScriptFilter struct {
	Text string
	Pagination
}

// TaskStats holds aggregate task counts.
type TaskStats struct {
	Total        int            `json:"total"`
	CountByState map[string]int `json:"count_by_state"`
}

// TxFn is a function that executes within a database transaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction executes fn within a transaction on db. The transaction
// is rolled back if fn returns an error or panics, and committed otherwise.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// nowMillis is the timestamp source for created_at/updated_at columns.
var nowMillis = func() int64 {
	return time.Now().UTC().UnixMilli()
}

// likePattern escapes LIKE metacharacters in s and wraps it for a
// substring match. Queries using it must declare ESCAPE '\'.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// textMatch builds an OR of substring matches of one pattern across cols.
func textMatch(d Dialect, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf(`%s %s ? ESCAPE '\'`, c, d.like())
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

func clampPercent(delta int) int {
	if delta < 0 {
		return 0
	}
	if delta > model.MaxPercent {
		return model.MaxPercent
	}
	return delta
}
