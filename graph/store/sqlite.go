package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Store[S] backend for local development and
// single-process deployments. WAL mode keeps readers unblocked while the
// engine commits supersteps.
type SQLiteStore[S any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite database at path.
// Use ":memory:" for throwaway test databases.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id  TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			state      TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id            TEXT NOT NULL,
			ns                   TEXT NOT NULL,
			checkpoint_id        TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			superstep            INTEGER NOT NULL,
			type                 TEXT NOT NULL,
			payload              TEXT NOT NULL,
			metadata             TEXT NOT NULL,
			idempotency_key      TEXT NOT NULL,
			created_at           TIMESTAMP NOT NULL,
			PRIMARY KEY (thread_id, ns, checkpoint_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_idem ON checkpoints(idempotency_key)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_blobs (
			thread_id TEXT NOT NULL,
			ns        TEXT NOT NULL,
			channel   TEXT NOT NULL,
			version   INTEGER NOT NULL,
			type      TEXT NOT NULL,
			blob      BLOB NOT NULL,
			PRIMARY KEY (thread_id, ns, channel, version)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
			thread_id     TEXT NOT NULL,
			ns            TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			task_id       TEXT NOT NULL,
			task_path     TEXT,
			idx           INTEGER NOT NULL,
			channel       TEXT NOT NULL,
			type          TEXT NOT NULL,
			blob          BLOB NOT NULL,
			PRIMARY KEY (thread_id, ns, checkpoint_id, task_id, idx, channel)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoint_writes_thread ON checkpoint_writes(thread_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error { return s.db.Close() }

func (s *SQLiteStore[S]) PutThread(ctx context.Context, rec ThreadRecord[S]) error {
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		rec.ThreadID, string(rec.Status), string(state), created, updated)
	return err
}

func (s *SQLiteStore[S]) GetThread(ctx context.Context, threadID string) (ThreadRecord[S], error) {
	var zero ThreadRecord[S]
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, status, state, created_at, updated_at
		FROM threads WHERE thread_id = ?`, threadID)
	return scanThread[S](row, zero)
}

func (s *SQLiteStore[S]) ListThreads(ctx context.Context, page, pageSize int) ([]ThreadRecord[S], int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, status, state, created_at, updated_at
		FROM threads
		ORDER BY updated_at DESC, thread_id
		LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]ThreadRecord[S], 0, pageSize)
	for rows.Next() {
		var zero ThreadRecord[S]
		rec, serr := scanThread[S](rows, zero)
		if serr != nil {
			return nil, 0, serr
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore[S]) PutCheckpoint(ctx context.Context, cp Checkpoint[S], blobs []CheckpointBlob, foldedTaskIDs []string) error {
	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint payload: %w", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Folded writes are discarded even when the checkpoint itself turns out
	// to be a duplicate commit, so crash recovery converges.
	if len(foldedTaskIDs) > 0 {
		placeholders := strings.Repeat("?,", len(foldedTaskIDs))
		args := []any{cp.ThreadID, cp.NS}
		for _, id := range foldedTaskIDs {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM checkpoint_writes WHERE thread_id = ? AND ns = ? AND task_id IN (`+placeholders[:len(placeholders)-1]+`)`,
			args...); err != nil {
			return err
		}
	}

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE idempotency_key = ?`, cp.IdempotencyKey).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		if cerr := tx.Commit(); cerr != nil {
			return cerr
		}
		return ErrDuplicateCheckpoint
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints
			(thread_id, ns, checkpoint_id, parent_checkpoint_id, superstep, type, payload, metadata, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.NS, cp.CheckpointID, nullString(cp.ParentCheckpointID),
		cp.Superstep, cp.Type, string(payload), string(metadata), cp.IdempotencyKey, cp.CreatedAt); err != nil {
		return err
	}

	for _, b := range blobs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoint_blobs (thread_id, ns, channel, version, type, blob)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(thread_id, ns, channel, version) DO UPDATE SET
				type = excluded.type, blob = excluded.blob`,
			b.ThreadID, b.NS, b.Channel, b.Version, b.Type, b.Blob); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore[S]) LatestCheckpoint(ctx context.Context, threadID, ns string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, ns, checkpoint_id, parent_checkpoint_id, superstep, type, payload, metadata, idempotency_key, created_at
		FROM checkpoints
		WHERE thread_id = ? AND ns = ?
		ORDER BY superstep DESC LIMIT 1`, threadID, ns)
	return scanCheckpoint[S](row)
}

func (s *SQLiteStore[S]) GetCheckpoint(ctx context.Context, threadID, ns, checkpointID string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, ns, checkpoint_id, parent_checkpoint_id, superstep, type, payload, metadata, idempotency_key, created_at
		FROM checkpoints
		WHERE thread_id = ? AND ns = ? AND checkpoint_id = ?`, threadID, ns, checkpointID)
	return scanCheckpoint[S](row)
}

func (s *SQLiteStore[S]) PutWrites(ctx context.Context, writes []CheckpointWrite) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoint_writes
				(thread_id, ns, checkpoint_id, task_id, task_path, idx, channel, type, blob)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(thread_id, ns, checkpoint_id, task_id, idx, channel) DO NOTHING`,
			w.ThreadID, w.NS, w.CheckpointID, w.TaskID, w.TaskPath, w.Idx, w.Channel, w.Type, w.Blob); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore[S]) PendingWrites(ctx context.Context, threadID, ns string) ([]CheckpointWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, ns, checkpoint_id, task_id, task_path, idx, channel, type, blob
		FROM checkpoint_writes
		WHERE thread_id = ? AND ns = ?
		ORDER BY task_id, idx`, threadID, ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckpointWrite
	for rows.Next() {
		var w CheckpointWrite
		var taskPath sql.NullString
		if err := rows.Scan(&w.ThreadID, &w.NS, &w.CheckpointID, &w.TaskID, &taskPath, &w.Idx, &w.Channel, &w.Type, &w.Blob); err != nil {
			return nil, err
		}
		w.TaskPath = taskPath.String
		out = append(out, w)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread[S any](row rowScanner, zero ThreadRecord[S]) (ThreadRecord[S], error) {
	var rec ThreadRecord[S]
	var status, state string
	if err := row.Scan(&rec.ThreadID, &status, &state, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, err
	}
	rec.Status = ThreadStatus(status)
	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		return zero, fmt.Errorf("failed to unmarshal thread state: %w", err)
	}
	return rec, nil
}

func scanCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var zero Checkpoint[S]
	var cp Checkpoint[S]
	var parent sql.NullString
	var payload, metadata string
	if err := row.Scan(&cp.ThreadID, &cp.NS, &cp.CheckpointID, &parent, &cp.Superstep, &cp.Type, &payload, &metadata, &cp.IdempotencyKey, &cp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, err
	}
	cp.ParentCheckpointID = parent.String
	if err := json.Unmarshal([]byte(payload), &cp.State); err != nil {
		return zero, fmt.Errorf("failed to unmarshal checkpoint payload: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &cp.Metadata); err != nil {
		return zero, fmt.Errorf("failed to unmarshal checkpoint metadata: %w", err)
	}
	return cp, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
