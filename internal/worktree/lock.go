package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type lockInfo struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	ExpiresAt time.Time `json:"expires_at"`
}

// acquireLock creates a lock file exclusively. A stale lock past its TTL
// is reclaimed by removing and retrying once.
func acquireLock(path string, ttl time.Duration) error {
	if err := tryCreateLock(path, ttl); err == nil {
		return nil
	}

	existing, err := readLock(path)
	if err != nil {
		return err
	}
	if time.Now().Before(existing.ExpiresAt) {
		return fmt.Errorf("worktree lock %s held by pid %d until %s", path, existing.PID, existing.ExpiresAt)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return tryCreateLock(path, ttl)
}

func tryCreateLock(path string, ttl time.Duration) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	host, _ := os.Hostname()
	info := lockInfo{PID: os.Getpid(), Host: host, ExpiresAt: time.Now().Add(ttl)}
	return json.NewEncoder(f).Encode(info)
}

func readLock(path string) (*lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func releaseLock(path string) {
	_ = os.Remove(path)
}
