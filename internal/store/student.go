package store

import (
	"context"

	"github.com/pavelanni/examhall/internal/model"
)

type studentRow struct {
	TenantID string `db:"tenant_id"`
	ID       string `db:"id"`
	Name     string `db:"name"`
	Level    string `db:"level"`
}

func (r studentRow) student() model.Student {
	return model.Student{ID: r.ID, TenantID: r.TenantID, Name: r.Name, Level: r.Level}
}

func students(rows []studentRow) []model.Student {
	out := make([]model.Student, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.student())
	}
	return out
}

// UpsertStudent stores a roster entry.
func (s *Store) UpsertStudent(ctx context.Context, st model.Student) error {
	_, err := exec(ctx, s.db,
		`INSERT INTO students (tenant_id, id, name, level) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, id) DO UPDATE SET name = excluded.name, level = excluded.level`,
		st.TenantID, st.ID, st.Name, st.Level,
	)
	return err
}

// ListStudents returns a tenant's roster ordered by ID.
func (s *Store) ListStudents(ctx context.Context, tenantID string) ([]model.Student, error) {
	var rows []studentRow
	err := sel(ctx, s.db, &rows,
		`SELECT tenant_id, id, name, level FROM students WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	return students(rows), nil
}

// GetStudents returns the roster entries that exist among ids, ordered by ID.
func (s *Store) GetStudents(ctx context.Context, tenantID string, ids []string) ([]model.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []studentRow
	err := selectIn(ctx, s.db, &rows,
		`SELECT tenant_id, id, name, level FROM students WHERE tenant_id = ? AND id IN (?) ORDER BY id`,
		tenantID, ids)
	if err != nil {
		return nil, err
	}
	return students(rows), nil
}

// GetStudent returns one roster entry.
func (s *Store) GetStudent(ctx context.Context, tenantID, id string) (model.Student, error) {
	var row studentRow
	err := get(ctx, s.db, &row,
		`SELECT tenant_id, id, name, level FROM students WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return row.student(), err
}
