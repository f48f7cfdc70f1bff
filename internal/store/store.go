// Package store is the durable workflow store (C2): checkpointed
// persistence for workflows, phase outputs, tasks and budget records,
// backed by SQLite through the pure-Go modernc.org/sqlite driver so the
// orchestrator never needs cgo. Phase outputs, checkpoints and budget
// records are append-only; workflow and task rows are updated in place.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store is the SQLite-backed implementation of the workflow store.
type Store struct {
	dbPath string
	db     *sql.DB // single writer connection
	readDB *sql.DB // pooled read-only connections

	mu            sync.Mutex
	maxRetries    int
	baseRetryWait time.Duration
}

// Open opens (creating if necessary) the SQLite database at dbPath and
// brings its schema up to date. Callers get STORAGE_UNAVAILABLE-class
// errors back through domain.ClassifiedError when this fails.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, &domain.ClassifiedError{Class: domain.ClassTransientInfra, Code: domain.CodeStorageUnavailable, Err: fmt.Errorf("empty store DSN")}
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, &domain.ClassifiedError{Class: domain.ClassTransientInfra, Code: domain.CodeStorageUnavailable, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &domain.ClassifiedError{Class: domain.ClassTransientInfra, Code: domain.CodeStorageUnavailable, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, &domain.ClassifiedError{Class: domain.ClassTransientInfra, Code: domain.CodeStorageUnavailable, Err: err}
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		dbPath:        dbPath,
		db:            db,
		readDB:        readDB,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, &domain.ClassifiedError{Class: domain.ClassTransientInfra, Code: domain.CodeStorageUnavailable, Err: err}
	}
	return s, nil
}

// Close releases both connections.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (1)"); err != nil {
			return fmt.Errorf("recording migration v1: %w", err)
		}
	}
	return nil
}

// retryWrite executes fn, retrying on SQLITE_BUSY/SQLITE_LOCKED with
// exponential backoff.
func (s *Store) retryWrite(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(); err != nil {
			if isBusy(err) {
				lastErr = err
				if attempt < s.maxRetries {
					wait := s.baseRetryWait * time.Duration(1<<attempt)
					select {
					case <-ctx.Done():
						return fmt.Errorf("%s: %w (last: %v)", op, ctx.Err(), lastErr)
					case <-time.After(wait):
						continue
					}
				}
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%s: max retries exceeded: %w", op, lastErr)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "SQLITE_LOCKED")
}

// Create inserts a brand-new workflow row. If a row with this id already
// exists, Create is idempotent and returns the existing workflow unchanged
// (the same idempotency property Start relies on).
func (s *Store) Create(ctx context.Context, w *domain.Workflow) (*domain.Workflow, error) {
	existing, err := s.Load(ctx, w.ID)
	if err == nil {
		return existing, nil
	}

	w.UpdatedAt = timeNow()
	statusJSON, err := json.Marshal(w.PhaseStatus)
	if err != nil {
		return nil, err
	}
	err = s.retryWrite(ctx, "create workflow", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO workflows (id, project, feature_request, current_phase, phase_status, mode, plan_ref, task_set_ref, pending, iteration, feature_branch, state, checkpoint_seq, validation_iterations, verification_attempts, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.Project, w.FeatureRequest, int(w.CurrentPhase), string(statusJSON), string(w.Mode), w.PlanRef, w.TaskSetRef,
			marshalPending(w.Pending), w.Iteration, w.FeatureBranch, string(w.State), w.CheckpointSeq,
			w.ValidationIterations, w.VerificationAttempts, w.UpdatedAt.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.Checkpoint(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Load retrieves a workflow by id using the read-only connection.
func (s *Store) Load(ctx context.Context, id string) (*domain.Workflow, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, project, feature_request, current_phase, phase_status, mode, plan_ref, task_set_ref, pending, iteration, feature_branch, state, checkpoint_seq, validation_iterations, verification_attempts, updated_at
		FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

// ListWorkflows returns every workflow row, most recently updated first.
// Used by the status command's fuzzy lookup, so callers can resolve a
// partial id or project name without knowing the exact workflow id.
func (s *Store) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, project, feature_request, current_phase, phase_status, mode, plan_ref, task_set_ref, pending, iteration, feature_branch, state, checkpoint_seq, validation_iterations, verification_attempts, updated_at
		FROM workflows ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Workflow
	for rows.Next() {
		w, err := scanWorkflowRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorkflowRows(rows *sql.Rows) (*domain.Workflow, error) {
	var w domain.Workflow
	var phase int
	var statusJSON string
	var mode, state, updatedAt string
	var planRef, taskSetRef, pending, featureBranch, featureRequest sql.NullString
	if err := rows.Scan(&w.ID, &w.Project, &featureRequest, &phase, &statusJSON, &mode, &planRef, &taskSetRef, &pending, &w.Iteration, &featureBranch, &state, &w.CheckpointSeq, &w.ValidationIterations, &w.VerificationAttempts, &updatedAt); err != nil {
		return nil, err
	}
	w.CurrentPhase = domain.Phase(phase)
	w.Mode = domain.ExecutionMode(mode)
	w.State = domain.WorkflowState(state)
	w.PlanRef = planRef.String
	w.TaskSetRef = taskSetRef.String
	w.FeatureBranch = featureBranch.String
	w.FeatureRequest = featureRequest.String
	if err := json.Unmarshal([]byte(statusJSON), &w.PhaseStatus); err != nil {
		return nil, err
	}
	if pending.Valid && pending.String != "" {
		var pi domain.PendingInterrupt
		if err := json.Unmarshal([]byte(pending.String), &pi); err != nil {
			return nil, err
		}
		w.Pending = &pi
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		w.UpdatedAt = t
	}
	return &w, nil
}

func scanWorkflow(row *sql.Row) (*domain.Workflow, error) {
	var w domain.Workflow
	var phase int
	var statusJSON string
	var mode, state, updatedAt string
	var planRef, taskSetRef, pending, featureBranch, featureRequest sql.NullString
	if err := row.Scan(&w.ID, &w.Project, &featureRequest, &phase, &statusJSON, &mode, &planRef, &taskSetRef, &pending, &w.Iteration, &featureBranch, &state, &w.CheckpointSeq, &w.ValidationIterations, &w.VerificationAttempts, &updatedAt); err != nil {
		return nil, err
	}
	w.CurrentPhase = domain.Phase(phase)
	w.Mode = domain.ExecutionMode(mode)
	w.State = domain.WorkflowState(state)
	w.PlanRef = planRef.String
	w.TaskSetRef = taskSetRef.String
	w.FeatureBranch = featureBranch.String
	w.FeatureRequest = featureRequest.String
	if err := json.Unmarshal([]byte(statusJSON), &w.PhaseStatus); err != nil {
		return nil, err
	}
	if pending.Valid && pending.String != "" {
		var pi domain.PendingInterrupt
		if err := json.Unmarshal([]byte(pending.String), &pi); err != nil {
			return nil, err
		}
		w.Pending = &pi
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		w.UpdatedAt = t
	}
	return &w, nil
}

func marshalPending(p *domain.PendingInterrupt) *string {
	if p == nil {
		return nil
	}
	b, _ := json.Marshal(p)
	s := string(b)
	return &s
}

// Save persists the full mutable state of w — used by the driver after
// every transition, immediately before Checkpoint.
func (s *Store) Save(ctx context.Context, w *domain.Workflow) error {
	w.UpdatedAt = timeNow()
	statusJSON, err := json.Marshal(w.PhaseStatus)
	if err != nil {
		return err
	}
	return s.retryWrite(ctx, "save workflow", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE workflows SET project=?, feature_request=?, current_phase=?, phase_status=?, mode=?, plan_ref=?, task_set_ref=?, pending=?, iteration=?, feature_branch=?, state=?, checkpoint_seq=?, validation_iterations=?, verification_attempts=?, updated_at=?
			WHERE id=?`,
			w.Project, w.FeatureRequest, int(w.CurrentPhase), string(statusJSON), string(w.Mode), w.PlanRef, w.TaskSetRef,
			marshalPending(w.Pending), w.Iteration, w.FeatureBranch, string(w.State), w.CheckpointSeq,
			w.ValidationIterations, w.VerificationAttempts, w.UpdatedAt.Format(time.RFC3339Nano), w.ID)
		return err
	})
}

// AppendPhaseOutput appends an immutable phase output and returns its id.
// Phase outputs are never mutated or deleted (invariant 6).
func (s *Store) AppendPhaseOutput(ctx context.Context, workflowID string, phase domain.Phase, typ domain.PhaseOutputType, payload []byte, producingAgent string) (string, error) {
	id := uuid.NewString()
	var seq int64
	err := s.retryWrite(ctx, "append phase output", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM phase_outputs WHERE workflow_id = ?`, workflowID)
		if err := row.Scan(&seq); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO phase_outputs (id, workflow_id, phase, type, payload, producing_agent, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, workflowID, int(phase), string(typ), payload, producingAgent, timeNow().Format(time.RFC3339Nano), seq); err != nil {
			return err
		}
		return tx.Commit()
	})
	return id, err
}

// QueryByType retrieves the latest phase output of the given phase and
// type, by seq. Rollback neither deletes nor hides rows, so this always
// reflects the latest append, including outputs appended after the
// checkpoint a workflow was rolled back to; rollback moves only the
// Workflow's own cursor.
func (s *Store) QueryByType(ctx context.Context, workflowID string, phase domain.Phase, typ domain.PhaseOutputType) (*domain.PhaseOutput, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, workflow_id, phase, type, payload, producing_agent, created_at, seq
		FROM phase_outputs WHERE workflow_id = ? AND phase = ? AND type = ?
		ORDER BY seq DESC LIMIT 1`, workflowID, int(phase), string(typ))
	var o domain.PhaseOutput
	var phaseInt int
	var createdAt string
	var agent sql.NullString
	if err := row.Scan(&o.ID, &o.WorkflowID, &phaseInt, &o.Type, &o.Payload, &agent, &createdAt, &o.Seq); err != nil {
		return nil, err
	}
	o.Phase = domain.Phase(phaseInt)
	o.ProducingAgent = agent.String
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &o, nil
}

// Checkpoint snapshots the workflow's current state as the next monotonic
// sequence number, atomically. On failure mid-transition the previously
// stored checkpoint remains authoritative since nothing here is mutated
// until the insert commits.
func (s *Store) Checkpoint(ctx context.Context, w *domain.Workflow) (int64, error) {
	snap, err := json.Marshal(w)
	if err != nil {
		return 0, err
	}
	var seq int64
	err = s.retryWrite(ctx, "checkpoint", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE workflow_id = ?`, w.ID)
		if err := row.Scan(&seq); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (workflow_id, seq, snapshot, created_at) VALUES (?, ?, ?, ?)`,
			w.ID, seq, snap, timeNow().Format(time.RFC3339Nano)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET checkpoint_seq = ? WHERE id = ?`, seq, w.ID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	w.CheckpointSeq = seq
	return seq, nil
}

// Rollback makes checkpoint seq the current one for the workflow. It does
// not delete any checkpoint or phase output beyond seq — later rows remain
// queryable by sequence, they simply are no longer the current view
// (invariant 6). Rollback is rejected with BUSY when any task for this
// workflow is in_progress.
func (s *Store) Rollback(ctx context.Context, workflowID string, seq int64) (*domain.Workflow, error) {
	busy, err := s.hasInProgressTask(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, &domain.ClassifiedError{Class: domain.ClassPolicyViolation, Code: domain.CodeBusy, Err: fmt.Errorf("workflow %s has an in_progress task", workflowID)}
	}

	row := s.readDB.QueryRowContext(ctx, `SELECT snapshot FROM checkpoints WHERE workflow_id = ? AND seq = ?`, workflowID, seq)
	var snap []byte
	if err := row.Scan(&snap); err != nil {
		return nil, err
	}
	var w domain.Workflow
	if err := json.Unmarshal(snap, &w); err != nil {
		return nil, err
	}
	w.CheckpointSeq = seq
	if err := s.Save(ctx, &w); err != nil {
		return nil, err
	}
	if err := s.retryWrite(ctx, "rollback pointer", func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE workflows SET checkpoint_seq = ? WHERE id = ?`, seq, workflowID)
		return err
	}); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) hasInProgressTask(ctx context.Context, workflowID string) (bool, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE workflow_id = ? AND status = ?`, workflowID, string(domain.TaskInProgress))
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func timeNow() time.Time { return time.Now().UTC() }
