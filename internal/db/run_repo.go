package db

import (
	"context"
	"database/sql"
	"fmt"
)

type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = nowUTC()
	}
	if run.EndedAt.IsZero() {
		run.EndedAt = nowUTC()
	}
	argsRaw, err := encodeStringSlice(run.Args)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO runs (id, project_id, command, args, dir, started_at, ended_at, exit_code, killed, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.ProjectID, run.Command, argsRaw, run.Dir, formatTimestamp(run.StartedAt), formatTimestamp(run.EndedAt), run.ExitCode, boolToInt(run.Killed), run.Error)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListByProject returns the newest runs first. limit <= 0 means no limit.
func (r *RunRepo) ListByProject(ctx context.Context, projectID string, limit int) ([]*Run, error) {
	query := `
SELECT id, project_id, command, args, dir, started_at, ended_at, exit_code, killed, error
FROM runs
WHERE project_id = ?
ORDER BY started_at DESC`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for project %q: %w", projectID, err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		item, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating runs: %w", err)
	}
	return runs, nil
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var item Run
	var argsRaw, startedAtRaw, endedAtRaw string
	var killed int
	if err := rows.Scan(&item.ID, &item.ProjectID, &item.Command, &argsRaw, &item.Dir, &startedAtRaw, &endedAtRaw, &item.ExitCode, &killed, &item.Error); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	var err error
	if item.Args, err = decodeStringSlice(argsRaw); err != nil {
		return nil, err
	}
	if item.StartedAt, err = parseTimestamp(startedAtRaw); err != nil {
		return nil, err
	}
	if item.EndedAt, err = parseTimestamp(endedAtRaw); err != nil {
		return nil, err
	}
	item.Killed = killed != 0
	return &item, nil
}
