package task

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteStore keeps tasks in a local database file so they survive
// restarts.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create task database directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "apply pragma %q", pragma)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return errors.Wrap(err, "check schema_version table")
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin schema tx")
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return errors.Wrap(err, "create schema")
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return errors.Wrap(err, "record schema version")
		}
		return errors.Wrap(tx.Commit(), "commit schema")
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if version != schemaVersion {
		return errors.Wrapf(ErrSchemaMismatch, "database %s has version %d, expected %d", s.path, version, schemaVersion)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) Create(ctx context.Context, t *model.Task) error {
	_, err := s.exec(ctx,
		`INSERT INTO tasks (id, kind, status, progress, result, file, url, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Kind, string(t.Status), t.Progress, nullableJSON(t.Result), t.File, t.URL, t.Message, formatTime(t.CreatedAt),
	)
	return errors.Wrapf(err, "insert task %s", t.ID)
}

const taskColumns = `id, kind, status, progress, result, file, url, message, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		t           model.Task
		status      string
		result      sql.NullString
		createdAt   string
		completedAt sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Kind, &status, &t.Progress, &result, &t.File, &t.URL, &t.Message, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	t.Status = model.TaskStatus(status)
	if result.Valid && result.String != "" {
		t.Result = []byte(result.String)
	}
	if created, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		t.CreatedAt = created
	}
	if completedAt.Valid {
		if done, perr := time.Parse(time.RFC3339Nano, completedAt.String); perr == nil {
			t.CompletedAt = &done
		}
	}
	return &t, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(apperrors.ErrTaskNotFound, "task %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read task %s", id)
	}
	return t, nil
}

func (s *SQLiteStore) Processing(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at`,
		string(model.TaskStatusProcessing),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list processing tasks")
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, errors.Wrap(rows.Err(), "list processing tasks")
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := s.exec(ctx,
		`UPDATE tasks SET progress = ? WHERE id = ? AND status = ?`,
		clampProgress(progress), id, string(model.TaskStatusProcessing),
	)
	return errors.Wrapf(err, "update progress of %s", id)
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, c Completion) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE tasks
		 SET status = ?, progress = ?, result = ?, file = ?, url = ?, message = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(c.Status), c.Progress, nullableJSON(c.Result), c.File, c.URL, c.Message, formatTime(c.CompletedAt),
		id, string(model.TaskStatusProcessing),
	)
	if err != nil {
		return false, errors.Wrapf(err, "complete task %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
