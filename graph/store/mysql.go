package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a Store[S] backend for shared multi-process deployments.
// The DSN must include parseTime=true so TIMESTAMP columns scan into
// time.Time.
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore opens (and migrates) the MySQL database at dsn.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	s := &MySQLStore[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore[S]) createTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id  VARCHAR(255) PRIMARY KEY,
			status     VARCHAR(32) NOT NULL,
			state      JSON NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			updated_at TIMESTAMP(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id            VARCHAR(255) NOT NULL,
			ns                   VARCHAR(255) NOT NULL,
			checkpoint_id        VARCHAR(64) NOT NULL,
			parent_checkpoint_id VARCHAR(64),
			superstep            INT NOT NULL,
			type                 VARCHAR(32) NOT NULL,
			payload              JSON NOT NULL,
			metadata             JSON NOT NULL,
			idempotency_key      VARCHAR(128) NOT NULL,
			created_at           TIMESTAMP(6) NOT NULL,
			PRIMARY KEY (thread_id, ns, checkpoint_id),
			UNIQUE KEY idx_checkpoints_idem (idempotency_key)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_blobs (
			thread_id VARCHAR(255) NOT NULL,
			ns        VARCHAR(255) NOT NULL,
			channel   VARCHAR(255) NOT NULL,
			version   INT NOT NULL,
			type      VARCHAR(32) NOT NULL,
			blob      LONGBLOB NOT NULL,
			PRIMARY KEY (thread_id, ns, channel, version)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
			thread_id     VARCHAR(255) NOT NULL,
			ns            VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(64) NOT NULL,
			task_id       VARCHAR(64) NOT NULL,
			task_path     VARCHAR(255),
			idx           INT NOT NULL,
			channel       VARCHAR(255) NOT NULL,
			type          VARCHAR(32) NOT NULL,
			blob          LONGBLOB NOT NULL,
			PRIMARY KEY (thread_id, ns, checkpoint_id, task_id, idx, channel),
			KEY idx_checkpoint_writes_thread (thread_id)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQLStore[S]) Close() error { return s.db.Close() }

func (s *MySQLStore[S]) PutThread(ctx context.Context, rec ThreadRecord[S]) error {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			state = VALUES(state),
			updated_at = VALUES(updated_at)`,
		rec.ThreadID, string(rec.Status), string(state), created, updated)
	return err
}

func (s *MySQLStore[S]) GetThread(ctx context.Context, threadID string) (ThreadRecord[S], error) {
	var zero ThreadRecord[S]
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, status, state, created_at, updated_at
		FROM threads WHERE thread_id = ?`, threadID)
	return scanThread[S](row, zero)
}

func (s *MySQLStore[S]) ListThreads(ctx context.Context, page, pageSize int) ([]ThreadRecord[S], int, error) {
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

func (s *MySQLStore[S]) PutCheckpoint(ctx context.Context, cp Checkpoint[S], blobs []CheckpointBlob, foldedTaskIDs []string) error {
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
			ON DUPLICATE KEY UPDATE type = VALUES(type), blob = VALUES(blob)`,
			b.ThreadID, b.NS, b.Channel, b.Version, b.Type, b.Blob); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *MySQLStore[S]) LatestCheckpoint(ctx context.Context, threadID, ns string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, ns, checkpoint_id, parent_checkpoint_id, superstep, type, payload, metadata, idempotency_key, created_at
		FROM checkpoints
		WHERE thread_id = ? AND ns = ?
		ORDER BY superstep DESC LIMIT 1`, threadID, ns)
	return scanCheckpoint[S](row)
}

func (s *MySQLStore[S]) GetCheckpoint(ctx context.Context, threadID, ns, checkpointID string) (Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, ns, checkpoint_id, parent_checkpoint_id, superstep, type, payload, metadata, idempotency_key, created_at
		FROM checkpoints
		WHERE thread_id = ? AND ns = ? AND checkpoint_id = ?`, threadID, ns, checkpointID)
	return scanCheckpoint[S](row)
}

func (s *MySQLStore[S]) PutWrites(ctx context.Context, writes []CheckpointWrite) error {
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
			INSERT IGNORE INTO checkpoint_writes
				(thread_id, ns, checkpoint_id, task_id, task_path, idx, channel, type, blob)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ThreadID, w.NS, w.CheckpointID, w.TaskID, w.TaskPath, w.Idx, w.Channel, w.Type, w.Blob); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *MySQLStore[S]) PendingWrites(ctx context.Context, threadID, ns string) ([]CheckpointWrite, error) {
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
