package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store[S] backend on a pgx connection pool. It is the
// recommended backend for shared deployments: PutCheckpoint runs in a single
// transaction, so concurrent resumers of the same thread converge on one
// committed checkpoint per superstep.
type PostgresStore[S any] struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and migrates the schema.
func NewPostgresStore[S any](ctx context.Context, dsn string) (*PostgresStore[S], error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore[S]{pool: pool}
	if err := s.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore[S]) createTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id  TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			state      JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id            TEXT NOT NULL,
			ns                   TEXT NOT NULL,
			checkpoint_id        TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			superstep            INTEGER NOT NULL,
			type                 TEXT NOT NULL,
			payload              JSONB NOT NULL,
			metadata             JSONB NOT NULL,
			idempotency_key      TEXT NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (thread_id, ns, checkpoint_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_idem ON checkpoints(idempotency_key)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_blobs (
			thread_id TEXT NOT NULL,
			ns        TEXT NOT NULL,
			channel   TEXT NOT NULL,
			version   INTEGER NOT NULL,
			type      TEXT NOT NULL,
			blob      BYTEA NOT NULL,
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
			blob          BYTEA NOT NULL,
			PRIMARY KEY (thread_id, ns, checkpoint_id, task_id, idx, channel)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoint_writes_thread ON checkpoint_writes(thread_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore[S]) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore[S]) PutThread(ctx context.Context, rec ThreadRecord[S]) error {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO threads (thread_id, status, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (thread_id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		rec.ThreadID, string(rec.Status), state, created, updated)
	return err
}

func (s *PostgresStore[S]) GetThread(ctx context.Context, threadID string) (ThreadRecord[S], error) {
	row := s.pool.QueryRow(ctx, `
		SELECT thread_id, status, state, created_at, updated_at
		FROM threads WHERE thread_id = $1`, threadID)
	return s.scanThreadRow(row)
}

func (s *PostgresStore[S]) ListThreads(ctx context.Context, page, pageSize int) ([]ThreadRecord[S], int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM threads`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT thread_id, status, state, created_at, updated_at
		FROM threads
		ORDER BY updated_at DESC, thread_id
		LIMIT $1 OFFSET $2`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]ThreadRecord[S], 0, pageSize)
	for rows.Next() {
		rec, serr := s.scanThreadRow(rows)
		if serr != nil {
			return nil, 0, serr
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore[S]) PutCheckpoint(ctx context.Context, cp Checkpoint[S], blobs []CheckpointBlob, foldedTaskIDs []string) error {
	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint payload: %w", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Folded writes are discarded even when the checkpoint itself turns out
	// to be a duplicate commit, so crash recovery converges.
	if len(foldedTaskIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM checkpoint_writes WHERE thread_id = $1 AND ns = $2 AND task_id = ANY($3)`,
			cp.ThreadID, cp.NS, foldedTaskIDs); err != nil {
			return err
		}
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM checkpoints WHERE idempotency_key = $1)`, cp.IdempotencyKey).Scan(&exists); err != nil {
		return err
	}
	if exists {
		if cerr := tx.Commit(ctx); cerr != nil {
			return cerr
		}
		return ErrDuplicateCheckpoint
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO checkpoints
			(thread_id, ns, checkpoint_id, parent_checkpoint_id, superstep, type, payload, metadata, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cp.ThreadID, cp.NS, cp.CheckpointID, nullString(cp.ParentCheckpointID),
		cp.Superstep, cp.Type, payload, metadata, cp.IdempotencyKey, cp.CreatedAt); err != nil {
		return err
	}

	for _, b := range blobs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO checkpoint_blobs (thread_id, ns, channel, version, type, blob)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (thread_id, ns, channel, version) DO UPDATE SET
				type = EXCLUDED.type, blob = EXCLUDED.blob`,
			b.ThreadID, b.NS, b.Channel, b.Version, b.Type, b.Blob); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore[S]) LatestCheckpoint(ctx context.Context, threadID, ns string) (Checkpoint[S], error) {
	row := s.pool.QueryRow(ctx, `
		SELECT thread_id, ns, checkpoint_id, parent_checkpoint_id, superstep, type, payload, metadata, idempotency_key, created_at
		FROM checkpoints
		WHERE thread_id = $1 AND ns = $2
		ORDER BY superstep DESC LIMIT 1`, threadID, ns)
	return s.scanCheckpointRow(row)
}

func (s *PostgresStore[S]) GetCheckpoint(ctx context.Context, threadID, ns, checkpointID string) (Checkpoint[S], error) {
	row := s.pool.QueryRow(ctx, `
		SELECT thread_id, ns, checkpoint_id, parent_checkpoint_id, superstep, type, payload, metadata, idempotency_key, created_at
		FROM checkpoints
		WHERE thread_id = $1 AND ns = $2 AND checkpoint_id = $3`, threadID, ns, checkpointID)
	return s.scanCheckpointRow(row)
}

func (s *PostgresStore[S]) PutWrites(ctx context.Context, writes []CheckpointWrite) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, w := range writes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO checkpoint_writes
				(thread_id, ns, checkpoint_id, task_id, task_path, idx, channel, type, blob)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (thread_id, ns, checkpoint_id, task_id, idx, channel) DO NOTHING`,
			w.ThreadID, w.NS, w.CheckpointID, w.TaskID, w.TaskPath, w.Idx, w.Channel, w.Type, w.Blob); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore[S]) PendingWrites(ctx context.Context, threadID, ns string) ([]CheckpointWrite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT thread_id, ns, checkpoint_id, task_id, task_path, idx, channel, type, blob
		FROM checkpoint_writes
		WHERE thread_id = $1 AND ns = $2
		ORDER BY task_id, idx`, threadID, ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckpointWrite
	for rows.Next() {
		var w CheckpointWrite
		var taskPath *string
		if err := rows.Scan(&w.ThreadID, &w.NS, &w.CheckpointID, &w.TaskID, &taskPath, &w.Idx, &w.Channel, &w.Type, &w.Blob); err != nil {
			return nil, err
		}
		if taskPath != nil {
			w.TaskPath = *taskPath
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore[S]) scanThreadRow(row pgx.Row) (ThreadRecord[S], error) {
	var zero ThreadRecord[S]
	var rec ThreadRecord[S]
	var status string
	var state []byte
	if err := row.Scan(&rec.ThreadID, &status, &state, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, err
	}
	rec.Status = ThreadStatus(status)
	if err := json.Unmarshal(state, &rec.State); err != nil {
		return zero, fmt.Errorf("failed to unmarshal thread state: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore[S]) scanCheckpointRow(row pgx.Row) (Checkpoint[S], error) {
	var zero Checkpoint[S]
	var cp Checkpoint[S]
	var parent *string
	var payload, metadata []byte
	if err := row.Scan(&cp.ThreadID, &cp.NS, &cp.CheckpointID, &parent, &cp.Superstep, &cp.Type, &payload, &metadata, &cp.IdempotencyKey, &cp.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, err
	}
	if parent != nil {
		cp.ParentCheckpointID = *parent
	}
	if err := json.Unmarshal(payload, &cp.State); err != nil {
		return zero, fmt.Errorf("failed to unmarshal checkpoint payload: %w", err)
	}
	if err := json.Unmarshal(metadata, &cp.Metadata); err != nil {
		return zero, fmt.Errorf("failed to unmarshal checkpoint metadata: %w", err)
	}
	return cp, nil
}
