// Package history keeps an audit log of finished print jobs in sqlite. The log
// is only ever appended to and read back for display; jobs are never replayed
// from it.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"tomgalvin.uk/luckprint/internal/printer"
)

//go:embed schema.sql
var schema string

// longest text stored for a job
const maxContentRunes = 200

type Entry struct {
	ID          int64
	JobID       uuid.UUID
	Kind        string
	Content     string
	Outcome     string
	Error       string
	SubmittedAt time.Time
	FinishedAt  time.Time
}

type Repository struct {
	Db *sql.DB
}

var _ printer.Recorder = (*Repository)(nil)

func Open(path string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("Couldn't create database directory:\n%w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open database:\n%w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Couldn't initialise database:\n%w", err)
	}
	return &Repository{Db: db}, nil
}

func (r *Repository) Close() error {
	return r.Db.Close()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (r *Repository) Record(ctx context.Context, j *printer.Job, res printer.Result) error {
	content := j.ImagePath
	if content == "" {
		content = truncate(j.Text, maxContentRunes)
	}
	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}

	_, err := r.Db.ExecContext(ctx, `
		INSERT INTO print_job(uuid, kind, content, outcome, error, submitted_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Kind(), content, res.Outcome.String(), errText,
		j.SubmittedAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("Failed to insert into print_job:\n%w", err)
	}
	return nil
}

// Most recent entries first
func (r *Repository) List(ctx context.Context, limit int) ([]Entry, error) {
	return QueryAndScanRows(ctx, r.Db, `
		SELECT id, uuid, kind, content, outcome, error, submitted_at, finished_at
		FROM print_job
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, []any{limit}, func(rows *sql.Rows, e *Entry) error {
		var uuidString string
		var submitted, finished int64
		if err := rows.Scan(&e.ID, &uuidString, &e.Kind, &e.Content, &e.Outcome, &e.Error, &submitted, &finished); err != nil {
			return err
		}
		u, err := uuid.Parse(uuidString)
		if err != nil {
			return fmt.Errorf("Bad job id %q:\n%w", uuidString, err)
		}
		e.JobID = u
		e.SubmittedAt = time.UnixMilli(submitted)
		e.FinishedAt = time.UnixMilli(finished)
		return nil
	})
}

// Deletes entries that finished before the cutoff, returning how many went
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.Transact(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM print_job WHERE finished_at < ?`, before.UnixMilli())
		if err != nil {
			return fmt.Errorf("Couldn't prune print_job:\n%w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func QueryAndScanRows[T any](ctx context.Context, db *sql.DB, query string, args []any, scanRow func(*sql.Rows, *T) error) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Query execution failed:\n%w", err)
	}
	defer rows.Close()

	results := []T{}
	for rows.Next() {
		var x T
		if err := scanRow(rows, &x); err != nil {
			return nil, fmt.Errorf("row scanning failed:\n%w", err)
		}
		results = append(results, x)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Error iterating rows:\n%w", err)
	}

	return results, nil
}

// Run operations in a transaction, committing afterward, or rolling back if the
// passed function returns an error
func (r *Repository) Transact(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := r.Db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			return fmt.Errorf("Failed to roll back transaction: %w\n\nAfter handling: %v", err2, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Failed to commit transaction:\n%w", err)
	}
	return nil
}
