package task

import "github.com/conductor-sdlc/conductor/internal/domain"

// MarkStarted transitions a task into in_progress.
func MarkStarted(t *domain.Task) {
	t.Status = domain.TaskInProgress
}

// RecordOutcome applies the result of an implementation attempt. Success
// completes the task; failure increments the attempt counter and either
// schedules a retry or, once MaxTaskAttempts is reached, terminates the
// task as failed.
func RecordOutcome(t *domain.Task, err error) {
	if err == nil {
		t.Status = domain.TaskCompleted
		t.LastError = ""
		return
	}
	t.Attempts++
	t.LastError = err.Error()
	if t.Attempts >= domain.MaxTaskAttempts {
		t.Status = domain.TaskFailed
	} else {
		t.Status = domain.TaskRetry
	}
}
