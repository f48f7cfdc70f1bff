package budget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/conductor-sdlc/conductor/internal/domain"
)

type fakeRecorder struct {
	saved []*domain.BudgetRecord
}

func (f *fakeRecorder) SaveBudgetRecord(ctx context.Context, r *domain.BudgetRecord) error {
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeRecorder) SumBudget(ctx context.Context, workflowID, taskID string) (float64, error) {
	var total float64
	for _, r := range f.saved {
		if r.WorkflowID == workflowID && (taskID == "" || r.TaskID == taskID) {
			total += r.CostUnits
		}
	}
	return total, nil
}

func TestPreDebit_DeniesOverTaskCeiling(t *testing.T) {
	l, err := NewLedger(&fakeRecorder{}, "", Ceilings{PerTask: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !l.PreDebit("wf-1", "T1", 5) {
		t.Fatal("expected allow under ceiling")
	}
	if err := l.Commit(context.Background(), "wf-1", "T1", "writer", 5, time.Second); err != nil {
		t.Fatal(err)
	}
	if l.PreDebit("wf-1", "T1", 6) {
		t.Fatal("expected deny once cumulative spend would exceed ceiling")
	}
}

func TestCommit_PersistsLedgerCacheAtomically(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.json")
	rec := &fakeRecorder{}

	l, err := NewLedger(rec, ledgerPath, Ceilings{PerTask: 100})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(context.Background(), "wf-1", "T1", "writer", 2.5, time.Second); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewLedger(rec, ledgerPath, Ceilings{PerTask: 100})
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.totals[key("wf-1", "T1")] != 2.5 {
		t.Fatalf("reloaded total = %v, want 2.5", reloaded.totals[key("wf-1", "T1")])
	}
	if len(rec.saved) != 1 {
		t.Fatalf("expected exactly one durable budget record, got %d", len(rec.saved))
	}
}
