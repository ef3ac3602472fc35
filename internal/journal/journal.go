// Package journal records one row per activation in the activation_log table.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/courier/internal/storage"
)

var ErrNotFound = errors.New("activation not found")

type Journal struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Begin records a running activation and returns its id.
func (j *Journal) Begin(ctx context.Context, kind Kind, name, identity string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("activation name is empty")
	}
	id := uuid.NewString()
	var ident any
	if identity != "" {
		ident = identity
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO activation_log(id, kind, name, identity, status, started_at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, kind, name, ident, StatusRunning, j.now().Format(storage.TimeLayout))
	if err != nil {
		return "", fmt.Errorf("begin activation: %w", err)
	}
	return id, nil
}

// Complete records the outcome. Only running entries transition.
func (j *Journal) Complete(ctx context.Context, id string, status Status, errMsg string) error {
	var e any
	if errMsg != "" {
		e = errMsg
	}
	res, err := j.db.ExecContext(ctx, `
UPDATE activation_log
SET status = ?, error = ?, completed_at = ?
WHERE id = ? AND status = ?;
`, status, e, j.now().Format(storage.TimeLayout), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("complete activation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s (or already completed)", ErrNotFound, id)
	}
	return nil
}

// List returns the most recent entries first.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, kind, name, identity, status, error, started_at, completed_at
FROM activation_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                Entry
			identity, errMsg sql.NullString
			startedAt        string
			completedAt      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &identity, &e.Status, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		e.Identity = identity.String
		e.Error = errMsg.String
		if e.StartedAt, err = time.Parse(storage.TimeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if completedAt.Valid {
			t, err := time.Parse(storage.TimeLayout, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
			e.CompletedAt = &t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return out, nil
}

// Prune deletes completed entries older than retention and returns the count.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-retention).Format(storage.TimeLayout)
	res, err := j.db.ExecContext(ctx, `
DELETE FROM activation_log
WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?;
`, StatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune activations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// FailRunning marks every running entry as failed. Called at startup: any
// activation still running belongs to a previous process.
func (j *Journal) FailRunning(ctx context.Context, reason string) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
UPDATE activation_log
SET status = ?, error = ?, completed_at = ?
WHERE status = ?;
`, StatusFailed, reason, j.now().Format(storage.TimeLayout), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("fail running activations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
