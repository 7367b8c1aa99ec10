package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/seantiz/taskd/internal/model"
)

const scriptColumns = `id, name, code, created_at, updated_at`

// Scripts persists reusable script sources.
type Scripts struct {
	db      DBTX
	dialect Dialect
}

// NewScripts creates a script store on db.
func NewScripts(db DBTX, d Dialect) *Scripts {
	return &Scripts{db: db, dialect: d}
}

// WithTx returns a copy of the store that runs on tx.
func (s *Scripts) WithTx(tx *sql.Tx) *Scripts {
	return &Scripts{db: tx, dialect: s.dialect}
}

// Create inserts a new script.
func (s *Scripts) Create(ctx context.Context, name, code string) (*model.Script, error) {
	now := nowMillis()
	sc := &model.Script{
		ID:        model.NewID(),
		Name:      name,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO scripts (`+scriptColumns+`) VALUES (?, ?, ?, ?, ?)`),
		sc.ID, sc.Name, sc.Code, sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert script: %w", err)
	}
	return sc, nil
}

// Update changes the name and/or code of a script. Nil fields are left
// as they are.
func (s *Scripts) Update(ctx context.Context, id string, name, code *string) (*model.Script, error) {
	sets := []string{"updated_at = ?"}
	args := []any{nowMillis()}
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if code != nil {
		sets = append(sets, "code = ?")
		args = append(args, *code)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`UPDATE scripts SET `+strings.Join(sets, ", ")+` WHERE id = ?`),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("update script: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

// Delete deletes the scripts with the given ids, and through the foreign
// key every task that references them. It returns the number of scripts
// deleted.
func (s *Scripts) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`DELETE FROM scripts WHERE id IN (`+marks+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("delete scripts: %w", err)
	}
	return rowsAffected(res)
}

// DeleteOne deletes a single script and reports whether it existed.
func (s *Scripts) DeleteOne(ctx context.Context, id string) (bool, error) {
	n, err := s.Delete(ctx, []string{id})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindByID retrieves a script by ID.
func (s *Scripts) FindByID(ctx context.Context, id string) (*model.Script, error) {
	sc := &model.Script{}
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT `+scriptColumns+` FROM scripts WHERE id = ?`), id,
	).Scan(&sc.ID, &sc.Name, &sc.Code, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get script: %w", err)
	}
	return sc, nil
}

// Find returns one page of scripts matching f, oldest first.
func (s *Scripts) Find(ctx context.Context, f ScriptFilter) (Page[*model.Script], error) {
	p := f.Pagination.normalize()

	where := ""
	var args []any
	if f.Text != "" {
		where = " WHERE " + textMatch(s.dialect, []string{"id", "name"})
		pattern := likePattern(f.Text)
		args = append(args, pattern, pattern)
	}

	page := Page[*model.Script]{Items: []*model.Script{}, Page: p.Page, Size: p.Size}
	if err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT COUNT(*) FROM scripts"+where), args...,
	).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count scripts: %w", err)
	}

	limit, offset := p.limitOffset()
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT `+scriptColumns+` FROM scripts`+where+
			` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`),
		append(args, limit, offset)...,
	)
	if err != nil {
		return page, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sc := &model.Script{}
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Code, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return page, fmt.Errorf("scan script: %w", err)
		}
		page.Items = append(page.Items, sc)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterate scripts: %w", err)
	}
	return page, nil
}
