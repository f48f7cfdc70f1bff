package task

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/conductor-sdlc/conductor/internal/domain"
	"github.com/conductor-sdlc/conductor/internal/worktree"
)

// Executor runs a single task's implementation inside an isolated worktree.
// A nil worktree means the scheduler was built without a worktree manager
// and the executor is responsible for its own isolation.
type Executor interface {
	Execute(ctx context.Context, t *domain.Task, wt *worktree.Worktree) error
}

// Scheduler runs a task DAG's ready tasks concurrently, bounded by Limit
// workers, while serializing any two tasks that touch the same file even
// when the DAG would otherwise permit them to run in parallel.
//
// The goroutine-per-task / channel-fan-in / context-cancel shape mirrors
// the two-phase fan-out the rest of this codebase already uses for
// concurrent work; this just generalizes it from a fixed pair to an
// arbitrary ready set.
type Scheduler struct {
	DAG        *DAG
	Tasks      map[string]*domain.Task
	Worktrees  *worktree.Manager
	Executor   Executor
	Limit      int64
	BaseCommit string
	// IntegrationBranch is the shared ref each task's worktree is cut
	// from and cherry-picked back onto on success, so a downstream task
	// sees its dependencies' completed work instead of the fixed commit
	// the whole run started from. Required when Worktrees is set.
	IntegrationBranch string
}

// Run drives tasks to completion or failure. It returns the first task
// error encountered; other in-flight tasks are allowed to finish (they are
// not canceled on a sibling's failure, since failures are scoped to a
// single task, not the whole phase — unlike the two-reviewer fan-out).
// When a failed task leaves dependents that can never become ready, Run
// returns a scheduler-stalled error instead.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Limit <= 0 {
		s.Limit = 1
	}
	if s.Worktrees != nil {
		if err := s.Worktrees.EnsureIntegrationBranch(ctx, s.IntegrationBranch, s.BaseCommit); err != nil {
			return fmt.Errorf("ensuring integration branch: %w", err)
		}
	}
	sem := semaphore.NewWeighted(s.Limit)

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(chan string, len(s.Tasks)+1)

	launched := make(map[string]bool, len(s.Tasks))
	lockedFiles := make(map[string]string, len(s.Tasks))
	running := 0
	var firstErr error

	launch := func(id string) {
		t := s.Tasks[id]
		launched[id] = true
		for _, f := range t.Files() {
			lockedFiles[f] = id
		}
		MarkStarted(t)
		running++
		wg.Add(1)

		go func() {
			defer wg.Done()

			var runErr error
			if semErr := sem.Acquire(ctx, 1); semErr != nil {
				runErr = semErr
			} else {
				defer sem.Release(1)

				var wt *worktree.Worktree
				if s.Worktrees != nil {
					var err error
					wt, err = s.Worktrees.Acquire(ctx, id, s.IntegrationBranch)
					if err != nil {
						runErr = fmt.Errorf("acquiring worktree for %s: %w", id, err)
					}
				}
				if runErr == nil {
					runErr = s.Executor.Execute(ctx, t, wt)
				}
				if wt != nil && runErr == nil {
					if _, err := s.Worktrees.Integrate(ctx, wt, s.IntegrationBranch); err != nil {
						runErr = fmt.Errorf("integrating %s's work: %w", id, err)
					}
				}
				if wt != nil {
					// A failed or failed-to-integrate attempt's work is
					// abandoned outright; a successful one must already have
					// been cherry-picked onto IntegrationBranch above, so
					// Release still refuses (and fails the task) if not.
					if releaseErr := s.Worktrees.Release(ctx, wt, s.IntegrationBranch, runErr != nil); releaseErr != nil && runErr == nil {
						runErr = fmt.Errorf("releasing worktree for %s: %w", id, releaseErr)
					}
				}
			}

			mu.Lock()
			defer mu.Unlock()
			for _, f := range t.Files() {
				delete(lockedFiles, f)
			}
			running--
			RecordOutcome(t, runErr)
			if t.Status == domain.TaskRetry {
				// Eligible to be picked up again once its files are unlocked.
				delete(launched, id)
			}
			if runErr != nil && firstErr == nil && t.Status == domain.TaskFailed {
				firstErr = &domain.ClassifiedError{
					Class: domain.ClassInvalidOutput,
					Node:  id,
					Err:   fmt.Errorf("task %s failed after %d attempts: %w", id, t.Attempts, runErr),
				}
			}
			results <- id
		}()
	}

	for {
		mu.Lock()
		if s.allResolved() {
			mu.Unlock()
			break
		}

		for _, id := range s.DAG.Ready(s.Tasks) {
			if launched[id] {
				continue
			}
			if s.conflicts(id, lockedFiles) {
				continue
			}
			launch(id)
		}

		if running == 0 {
			mu.Unlock()
			return &domain.ClassifiedError{
				Class: domain.ClassProtocolViolation,
				Err:   fmt.Errorf("scheduler stalled: no task ready and none in flight"),
			}
		}
		mu.Unlock()

		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-results:
		}
	}

	wg.Wait()
	return firstErr
}

func (s *Scheduler) allResolved() bool {
	for _, t := range s.Tasks {
		if t.Status != domain.TaskCompleted && t.Status != domain.TaskFailed {
			return false
		}
	}
	return true
}

func (s *Scheduler) conflicts(id string, lockedFiles map[string]string) bool {
	for _, f := range s.Tasks[id].Files() {
		if holder, ok := lockedFiles[f]; ok && holder != id {
			return true
		}
	}
	return false
}
