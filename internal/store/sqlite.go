package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/programme-lv/grader/api"

	_ "modernc.org/sqlite"
)

// SQLite is a RunStore backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path and runs migrations.
// Use ":memory:" for an in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: every :memory: connection is its own database, and
	// writers on a file database would otherwise contend for the lock.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

const runColumns = `id, submission_id, test_id, assignment_id, owner, status, retcode, score, output, created_at, modified_at`

// timeFormat has fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func (s *SQLite) Create(ctx context.Context, run api.Run) error {
	var score sql.NullFloat64
	if run.Score != nil {
		score = sql.NullFloat64{Float64: *run.Score, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		run.ID, run.SubmissionID, run.TestID, run.AssignmentID, run.Owner,
		string(run.Status), run.Retcode, score, run.Output,
		formatTime(run.CreatedAt), formatTime(run.ModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, run.ID)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (api.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

func (s *SQLite) status(ctx context.Context, tx *sql.Tx, id string) (api.Status, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("querying run status: %w", err)
	}
	return api.Status(status), nil
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) SetStatus(ctx context.Context, id string, status api.Status) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(current, status); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET status = ?, modified_at = ? WHERE id = ?`,
			string(status), formatTime(s.now()), id)
		if err != nil {
			return fmt.Errorf("updating run status: %w", err)
		}
		return nil
	})
}

func (s *SQLite) Finalize(ctx context.Context, id string, final Final) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkFinal(current, final); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE runs
			SET status = ?, retcode = ?, score = ?, output = ?, modified_at = ?
			WHERE id = ?`,
			string(final.Status), final.Retcode, final.Score, final.Output, formatTime(s.now()), id)
		if err != nil {
			return fmt.Errorf("finalizing run: %w", err)
		}
		return nil
	})
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrRunActive, id, current)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting run: %w", err)
		}
		return nil
	})
}

func (s *SQLite) DeleteSubmissionRuns(ctx context.Context, submissionID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM runs
			WHERE submission_id = ? AND status NOT LIKE 'complete%'`, submissionID).Scan(&active)
		if err != nil {
			return fmt.Errorf("counting active runs: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("%w: submission %s has %d active runs", ErrRunActive, submissionID, active)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE submission_id = ?`, submissionID); err != nil {
			return fmt.Errorf("deleting runs: %w", err)
		}
		return nil
	})
}

func (s *SQLite) List(ctx context.Context, filter Filter) ([]api.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1 = 1`
	var args []any
	if filter.SubmissionID != "" {
		query += ` AND submission_id = ?`
		args = append(args, filter.SubmissionID)
	}
	if filter.TestID != "" {
		query += ` AND test_id = ?`
		args = append(args, filter.TestID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (api.Run, error) {
	var (
		run               api.Run
		status            string
		score             sql.NullFloat64
		created, modified string
	)
	err := s.Scan(&run.ID, &run.SubmissionID, &run.TestID, &run.AssignmentID, &run.Owner,
		&status, &run.Retcode, &score, &run.Output, &created, &modified)
	if err != nil {
		return api.Run{}, err
	}
	run.Status = api.Status(status)
	if score.Valid {
		v := score.Float64
		run.Score = &v
	}
	run.CreatedAt, _ = time.Parse(timeFormat, created)
	run.ModifiedAt, _ = time.Parse(timeFormat, modified)
	return run, nil
}
