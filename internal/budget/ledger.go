// Package budget is the budget ledger (C3): pre-flight spend control and
// durable cost accounting for every agent invocation.
package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

func readIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Recorder is the subset of the workflow store the ledger writes durable
// budget records through, so every invocation has exactly one matching
// record in the audit log (invariant 7).
type Recorder interface {
	SaveBudgetRecord(ctx context.Context, r *domain.BudgetRecord) error
	SumBudget(ctx context.Context, workflowID, taskID string) (float64, error)
}

// Ceilings bounds how much a task or a project may spend.
type Ceilings struct {
	PerTask    float64
	PerProject float64
}

// Ledger tracks running spend and decides admission before each agent
// invocation. The durable source of truth is the store's budget_records
// table; ledgerPath is a local atomically-written cache of running totals
// so pre-flight checks don't need a store round trip on the hot path.
type Ledger struct {
	store      Recorder
	ledgerPath string
	ceilings   Ceilings

	mu     sync.Mutex
	totals map[string]float64 // "workflowID/taskID" -> running total
}

type ledgerFile struct {
	Totals map[string]float64 `json:"totals"`
}

// NewLedger opens (or creates) the local ledger cache at ledgerPath.
func NewLedger(store Recorder, ledgerPath string, ceilings Ceilings) (*Ledger, error) {
	l := &Ledger{store: store, ledgerPath: ledgerPath, ceilings: ceilings, totals: make(map[string]float64)}
	if ledgerPath == "" {
		return l, nil
	}
	var lf ledgerFile
	data, err := readIfExists(ledgerPath)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := json.Unmarshal(data, &lf); err != nil {
			return nil, fmt.Errorf("parsing ledger cache: %w", err)
		}
		l.totals = lf.Totals
		if l.totals == nil {
			l.totals = make(map[string]float64)
		}
	}
	return l, nil
}

func key(workflowID, taskID string) string { return workflowID + "/" + taskID }

// PreDebit checks whether estimate would push either the task's or the
// project's running total past its ceiling. It does not commit anything;
// Commit() does that once actual cost is known.
func (l *Ledger) PreDebit(taskWorkflowID, taskID string, estimate float64) (allow bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	taskTotal := l.totals[key(taskWorkflowID, taskID)]
	projectTotal := l.totals[key(taskWorkflowID, "")]

	if l.ceilings.PerTask > 0 && taskTotal+estimate > l.ceilings.PerTask {
		return false
	}
	if l.ceilings.PerProject > 0 && projectTotal+estimate > l.ceilings.PerProject {
		return false
	}
	return true
}

// Commit records actual spend: a durable budget record through the store,
// and an update to the local running-totals cache written atomically.
func (l *Ledger) Commit(ctx context.Context, workflowID, taskID, agentID string, actual float64, dur time.Duration) error {
	rec := &domain.BudgetRecord{
		WorkflowID: workflowID,
		TaskID:     taskID,
		AgentID:    agentID,
		CostUnits:  actual,
		Duration:   dur,
		Timestamp:  time.Now().UTC(),
	}
	if err := l.store.SaveBudgetRecord(ctx, rec); err != nil {
		return fmt.Errorf("recording budget: %w", err)
	}

	l.mu.Lock()
	l.totals[key(workflowID, taskID)] += actual
	l.totals[key(workflowID, "")] += actual
	snapshot := ledgerFile{Totals: cloneMap(l.totals)}
	l.mu.Unlock()

	if l.ledgerPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(l.ledgerPath, data, 0o644)
}

// Deny builds the BUDGET_EXCEEDED error for a task over its budget
// ceiling. It changes no task state itself.
func Deny(workflowID, taskID string) *domain.ClassifiedError {
	return &domain.ClassifiedError{
		Class: domain.ClassPolicyViolation,
		Code:  domain.CodeBudgetExceeded,
		Err:   fmt.Errorf("task %s exceeded its budget ceiling", taskID),
	}
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
