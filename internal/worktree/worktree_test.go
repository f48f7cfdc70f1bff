package worktree

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git not usable in this environment: %v: %s", err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-q", "-m", "root")
	return dir
}

func TestAcquire_CreatesIsolatedWorktree(t *testing.T) {
	repo := initTestRepo(t)
	m := &Manager{RepoRoot: repo, BaseDir: filepath.Join(repo, ".worktrees")}

	wt, err := m.Acquire(context.Background(), "task-1", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if wt.Branch != "conductor/task-1" {
		t.Fatalf("branch = %q", wt.Branch)
	}
	if err := m.Release(context.Background(), wt, "HEAD", false); err != nil {
		t.Fatal(err)
	}
}

func TestRelease_RefusesUnintegratedCommits(t *testing.T) {
	repo := initTestRepo(t)
	m := &Manager{RepoRoot: repo, BaseDir: filepath.Join(repo, ".worktrees")}

	wt, err := m.Acquire(context.Background(), "task-2", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "-C", wt.Path, "commit", "--allow-empty", "-q", "-m", "work")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v: %s", err, out)
	}

	if err := m.Release(context.Background(), wt, "HEAD", false); err != ErrUncommittedWork {
		t.Fatalf("Release err = %v, want ErrUncommittedWork", err)
	}
	if err := m.Release(context.Background(), wt, "HEAD", true); err != nil {
		t.Fatalf("forced Release: %v", err)
	}
}

func TestIntegrate_CherryPicksCommitsOntoIntegrationBranch(t *testing.T) {
	repo := initTestRepo(t)
	m := &Manager{RepoRoot: repo, BaseDir: filepath.Join(repo, ".worktrees")}
	ctx := context.Background()

	if err := m.EnsureIntegrationBranch(ctx, "conductor/integration/wf-1", "HEAD"); err != nil {
		t.Fatal(err)
	}

	wt, err := m.Acquire(ctx, "task-3", "conductor/integration/wf-1")
	if err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(wt.Path, "task-3.txt")
	if err := exec.Command("sh", "-c", "echo hi > "+marker).Run(); err != nil {
		t.Fatal(err)
	}
	addCmd := exec.Command("git", "-C", wt.Path, "add", "task-3.txt")
	if out, err := addCmd.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v: %s", err, out)
	}
	commitCmd := exec.Command("git", "-C", wt.Path, "commit", "-q", "-m", "add task-3 marker")
	if out, err := commitCmd.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v: %s", err, out)
	}

	newHead, err := m.Integrate(ctx, wt, "conductor/integration/wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if newHead == "" {
		t.Fatal("expected non-empty integration head")
	}

	if err := m.Release(ctx, wt, "conductor/integration/wf-1", false); err != nil {
		t.Fatalf("Release after Integrate: %v", err)
	}

	wt2, err := m.Acquire(ctx, "task-4", "conductor/integration/wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Command("test", "-f", filepath.Join(wt2.Path, "task-3.txt")).CombinedOutput(); err != nil {
		t.Fatalf("downstream worktree missing integrated file: %v", err)
	}
	if err := m.Release(ctx, wt2, "conductor/integration/wf-1", true); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireLock_RejectsConcurrentHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.lock")

	if err := acquireLock(path, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := acquireLock(path, time.Hour); err == nil {
		t.Fatal("expected second acquire to fail while lock is held and fresh")
	}
}

func TestAcquireLock_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.lock")

	if err := acquireLock(path, -time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := acquireLock(path, time.Hour); err != nil {
		t.Fatalf("expected stale lock to be reclaimed: %v", err)
	}
}
