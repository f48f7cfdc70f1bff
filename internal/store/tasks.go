package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

// SaveTask upserts a task row for the given workflow.
func (s *Store) SaveTask(ctx context.Context, workflowID string, t *domain.Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.retryWrite(ctx, "save task", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, workflow_id, title, payload, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(workflow_id, id) DO UPDATE SET title=excluded.title, payload=excluded.payload, status=excluded.status, updated_at=excluded.updated_at`,
			t.ID, workflowID, t.Title, string(payload), string(t.Status), timeNow().Format(time.RFC3339Nano))
		return err
	})
}

// ListTasks returns every task recorded for a workflow.
func (s *Store) ListTasks(ctx context.Context, workflowID string) ([]*domain.Task, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT payload FROM tasks WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SaveBudgetRecord appends one immutable cost line to the audit log
// (invariant 7: every agent invocation has exactly one matching record).
func (s *Store) SaveBudgetRecord(ctx context.Context, r *domain.BudgetRecord) error {
	return s.retryWrite(ctx, "save budget record", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO budget_records (id, workflow_id, task_id, agent_id, cost_units, duration_ns, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			idFor(r), r.WorkflowID, nullableString(r.TaskID), r.AgentID, r.CostUnits, int64(r.Duration), r.Timestamp.Format(time.RFC3339Nano))
		return err
	})
}

// SumBudget returns total committed cost units for a task (taskID != "")
// or for the whole workflow when taskID == "".
func (s *Store) SumBudget(ctx context.Context, workflowID, taskID string) (float64, error) {
	var row *sql.Row
	if taskID != "" {
		row = s.readDB.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_units),0) FROM budget_records WHERE workflow_id = ? AND task_id = ?`, workflowID, taskID)
	} else {
		row = s.readDB.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_units),0) FROM budget_records WHERE workflow_id = ?`, workflowID)
	}
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func idFor(r *domain.BudgetRecord) string {
	return r.WorkflowID + ":" + r.AgentID + ":" + r.Timestamp.Format(time.RFC3339Nano)
}
