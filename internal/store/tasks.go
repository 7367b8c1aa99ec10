package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/seantiz/taskd/internal/model"
)

const taskColumns = `id, name, detail, output, result, percent, script_id, created_at, updated_at`

// Tasks persists task records. Mutations of a finished task are no-ops:
// once result is set the row is never written again.
type Tasks struct {
	db      DBTX
	dialect Dialect
}

// NewTasks creates a task store on db.
func NewTasks(db DBTX, d Dialect) *Tasks {
	return &Tasks{db: db, dialect: d}
}

// WithTx returns a copy of the store that runs on tx.
func (s *Tasks) WithTx(tx *sql.Tx) *Tasks {
	return &Tasks{db: tx, dialect: s.dialect}
}

func (s *Tasks) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

// Create inserts a new running task with no output and zero progress.
func (s *Tasks) Create(ctx context.Context, name string, detail *string) (*model.Task, error) {
	return s.create(ctx, name, detail, nil)
}

// CreateForScript inserts a new running task that references a script.
func (s *Tasks) CreateForScript(ctx context.Context, name string, detail *string, scriptID string) (*model.Task, error) {
	return s.create(ctx, name, detail, &scriptID)
}

func (s *Tasks) create(ctx context.Context, name string, detail, scriptID *string) (*model.Task, error) {
	now := nowMillis()
	t := &model.Task{
		ID:        model.NewID(),
		Name:      name,
		Detail:    detail,
		ScriptID:  scriptID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.exec(ctx,
		`INSERT INTO tasks (id, name, detail, percent, script_id, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`,
		t.ID, t.Name, t.Detail, t.ScriptID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Update appends output and adds percent to a running task in a single
// statement. The percent delta saturates so the stored value stays within
// [0,100] and never decreases. It returns false if the task does not exist
// or is already finished.
func (s *Tasks) Update(ctx context.Context, id, output string, percent int) (bool, error) {
	delta := clampPercent(percent)
	res, err := s.exec(ctx,
		`UPDATE tasks SET
			output = COALESCE(output, '') || ?,
			percent = CASE WHEN percent + ? > 100 THEN 100 ELSE percent + ? END,
			updated_at = ?
		WHERE id = ? AND result IS NULL`,
		output, delta, delta, nowMillis(), id,
	)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Finish records the result of a running task. It returns false if the
// task does not exist or already has a result.
func (s *Tasks) Finish(ctx context.Context, id string, result int) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE tasks SET result = ?, updated_at = ? WHERE id = ? AND result IS NULL`,
		result, nowMillis(), id,
	)
	if err != nil {
		return false, fmt.Errorf("finish task: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FinishWithOutput appends output and records the result of a running task
// in one statement. It returns false if the task does not exist or already
// has a result.
func (s *Tasks) FinishWithOutput(ctx context.Context, id string, result int, output string) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE tasks SET
			output = COALESCE(output, '') || ?,
			result = ?,
			updated_at = ?
		WHERE id = ? AND result IS NULL`,
		output, result, nowMillis(), id,
	)
	if err != nil {
		return false, fmt.Errorf("finish task with output: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteCompleted deletes every finished task and returns the count.
func (s *Tasks) DeleteCompleted(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM tasks WHERE result IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete completed tasks: %w", err)
	}
	return rowsAffected(res)
}

// CleanRunning marks every running task as orphaned. It is meant to run at
// process start, before any task can be executing.
func (s *Tasks) CleanRunning(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE tasks SET result = ?, updated_at = ? WHERE result IS NULL`,
		model.ResultOrphaned, nowMillis(),
	)
	if err != nil {
		return 0, fmt.Errorf("clean running tasks: %w", err)
	}
	return rowsAffected(res)
}

// FindByID retrieves a task by ID.
func (s *Tasks) FindByID(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Find returns one page of tasks matching f, oldest first.
func (s *Tasks) Find(ctx context.Context, f TaskFilter) (Page[*model.Task], error) {
	p := f.Pagination.normalize()

	var conds []string
	var args []any
	if f.Text != "" {
		conds = append(conds, textMatch(s.dialect, []string{"id", "name", "detail", "output"}))
		pattern := likePattern(f.Text)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if f.CreatedFrom > 0 {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedTo > 0 {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.CreatedTo)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := Page[*model.Task]{Items: []*model.Task{}, Page: p.Page, Size: p.Size}
	if err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT COUNT(*) FROM tasks"+where), args...,
	).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count tasks: %w", err)
	}

	limit, offset := p.limitOffset()
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT `+taskColumns+` FROM tasks`+where+
			` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`),
		append(args, limit, offset)...,
	)
	if err != nil {
		return page, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return page, fmt.Errorf("scan task: %w", err)
		}
		page.Items = append(page.Items, t)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterate tasks: %w", err)
	}
	return page, nil
}

// ReadOutput returns the output of a task from byte offset pos onwards, and
// the offset to continue from. Reading at or past the end yields "" and
// leaves the offset unchanged.
func (s *Tasks) ReadOutput(ctx context.Context, id string, pos int) (string, int, error) {
	if pos < 0 {
		return "", pos, ErrInvalidOffset
	}
	t, err := s.FindByID(ctx, id)
	if err != nil {
		return "", pos, err
	}
	out := t.OutputText()
	if pos >= len(out) {
		return "", pos, nil
	}
	chunk := out[pos:]
	return chunk, pos + len(chunk), nil
}

// Stats returns task counts grouped by lifecycle state.
func (s *Tasks) Stats(ctx context.Context) (*TaskStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT result, COUNT(*) FROM tasks GROUP BY result`)
	if err != nil {
		return nil, fmt.Errorf("count tasks by result: %w", err)
	}
	defer rows.Close()

	stats := &TaskStats{CountByState: make(map[string]int)}
	for rows.Next() {
		var result *int
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		stats.CountByState[model.TaskState(result)] += n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*model.Task, error) {
	t := &model.Task{}
	if err := sc.Scan(
		&t.ID, &t.Name, &t.Detail, &t.Output, &t.Result, &t.Percent,
		&t.ScriptID, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return t, nil
}
