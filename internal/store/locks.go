package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

// AcquireWorkflowLock takes a per-workflow advisory lock row so only one
// driver process advances a given workflow at a time. Stale locks (past
// their TTL) are reclaimed automatically.
func (s *Store) AcquireWorkflowLock(ctx context.Context, workflowID string, ttl time.Duration) error {
	host, _ := os.Hostname()
	pid := os.Getpid()
	now := timeNow()
	expires := now.Add(ttl)

	return s.retryWrite(ctx, "acquire workflow lock", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var expiresAt string
		err = tx.QueryRowContext(ctx, `SELECT expires_at FROM workflow_locks WHERE workflow_id = ?`, workflowID).Scan(&expiresAt)
		if err == nil {
			if t, parseErr := time.Parse(time.RFC3339Nano, expiresAt); parseErr == nil && t.After(now) {
				return fmt.Errorf("workflow %s is locked until %s", workflowID, expiresAt)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_locks (workflow_id, owner_pid, owner_host, acquired_at, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(workflow_id) DO UPDATE SET owner_pid=excluded.owner_pid, owner_host=excluded.owner_host, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at`,
			workflowID, pid, host, now.Format(time.RFC3339Nano), expires.Format(time.RFC3339Nano)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ReleaseWorkflowLock drops the lock row for workflowID.
func (s *Store) ReleaseWorkflowLock(ctx context.Context, workflowID string) error {
	return s.retryWrite(ctx, "release workflow lock", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_locks WHERE workflow_id = ?`, workflowID)
		return err
	})
}
