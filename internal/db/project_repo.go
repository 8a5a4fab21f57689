package db

import (
	"context"
	"database/sql"
	"fmt"
)

type ProjectRepo struct {
	db *sql.DB
}

func NewProjectRepo(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

const projectColumns = `id, name, template, root, entry, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var metadataRaw, createdAtRaw, updatedAtRaw string
	if err := row.Scan(&p.ID, &p.Name, &p.Template, &p.Root, &p.Entry, &metadataRaw, &createdAtRaw, &updatedAtRaw); err != nil {
		return nil, err
	}
	var err error
	p.Metadata, err = decodeStringMap(metadataRaw)
	if err != nil {
		return nil, err
	}
	p.CreatedAt, err = parseTimestamp(createdAtRaw)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt, err = parseTimestamp(updatedAtRaw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepo) Create(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = NewID()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = nowUTC()
	}
	if project.UpdatedAt.IsZero() {
		project.UpdatedAt = project.CreatedAt
	}
	metadataRaw, err := encodeStringMap(project.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO projects (`+projectColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, project.ID, project.Name, project.Template, project.Root, project.Entry, metadataRaw, formatTimestamp(project.CreatedAt), formatTimestamp(project.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create project %q: %w", project.Name, err)
	}
	return nil
}

func (r *ProjectRepo) Get(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project %q: %w", id, err)
	}
	return p, nil
}

func (r *ProjectRepo) GetByName(ctx context.Context, name string) (*Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ?`, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project %q: %w", name, err)
	}
	return p, nil
}

func (r *ProjectRepo) List(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating projects: %w", err)
	}
	return projects, nil
}

// Touch bumps updated_at, which the workbench does on every run.
func (r *ProjectRepo) Touch(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, formatTimestamp(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to touch project %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for project %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("project %q not found", id)
	}
	return nil
}

func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %q: %w", id, err)
	}
	return nil
}
