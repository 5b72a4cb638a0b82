package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/untoldecay/chronicle/internal/hashing"
	"github.com/untoldecay/chronicle/internal/idgen"
	"github.com/untoldecay/chronicle/internal/storage"
)

// Locks held longer than this are treated as abandoned by a crashed
// process and may be stolen. A tick is strictly sequential and far
// shorter in practice.
const lockStaleAfter = 15 * time.Minute

type runLock struct {
	conn  *sql.Conn
	key   int64
	owner string
}

// AcquireRunLock takes the advisory lock for a run, keyed by the
// stable 64-bit hash of the run id. Non-blocking: when another session
// holds a fresh lock, it reports ok=false. Acquire and release run on
// the same dedicated connection, and Release returns the connection to
// the pool.
func (s *SQLiteStorage) AcquireRunLock(ctx context.Context, runID string) (storage.RunLock, bool, error) {
	key := hashing.StableHash64(runID)
	owner := idgen.New("lock")

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get lock connection: %w", err)
	}

	cutoff := fmtTs(time.Now().Add(-lockStaleAfter))
	res, err := conn.ExecContext(ctx, `
		INSERT INTO run_locks (key, run_id, owner, acquired_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			run_id = excluded.run_id,
			owner = excluded.owner,
			acquired_at = excluded.acquired_at
		WHERE run_locks.acquired_at < ?`,
		key, runID, owner, fmtTs(time.Now()), cutoff)
	if err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		conn.Close()
		return nil, false, err
	}
	if n == 0 {
		conn.Close()
		return nil, false, nil
	}
	return &runLock{conn: conn, key: key, owner: owner}, true, nil
}

// Release deletes the lock row if we still own it and closes the
// session. Must be called on every exit path.
func (l *runLock) Release() error {
	defer l.conn.Close()
	// Background context: the release must happen even when the tick's
	// context is already cancelled.
	_, err := l.conn.ExecContext(context.Background(),
		`DELETE FROM run_locks WHERE key = ? AND owner = ?`, l.key, l.owner)
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
