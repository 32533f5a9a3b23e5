package models

import (
	"context"
	"sync"
	"time"
)

// TaskStatus tracks a Task's position in the admission/dispatch lifecycle.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// GenerateResult is what a Worker/Adapter produces for a Task.
type GenerateResult struct {
	Text  string
	Image string // data URI, e.g. "data:image/jpeg;base64,...."
	Error error
}

// Task is an incoming request snapshot. It is created on admission and
// destroyed on completion or error; it carries no persistence beyond the
// request's own lifetime.
type Task struct {
	ID          string
	Model       string // requested model id, optionally "adapterType/model"
	Prompt      string
	ImagePaths  []string
	Stream      bool
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// Ctx is cancelled when the client disconnects.
	Ctx    context.Context
	Cancel context.CancelFunc

	mu       sync.Mutex
	status   TaskStatus
	worker   string // name of the Worker this Task was assigned to, if any
	resultCh chan GenerateResult
}

// NewTask creates a Task in the queued state with its own result channel.
func NewTask(ctx context.Context, id, model, prompt string, imagePaths []string, stream bool) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	return &Task{
		ID:         id,
		Model:      model,
		Prompt:     prompt,
		ImagePaths: imagePaths,
		Stream:     stream,
		CreatedAt:  time.Now(),
		Ctx:        taskCtx,
		Cancel:     cancel,
		status:     TaskStatusQueued,
		resultCh:   make(chan GenerateResult, 1),
	}
}

// Status returns the Task's current status.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus transitions the Task to a new status.
func (t *Task) SetStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

// AssignWorker records which Worker is executing this Task.
func (t *Task) AssignWorker(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.worker = name
}

// Worker returns the name of the assigned Worker, or "" if unassigned.
func (t *Task) Worker() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.worker
}

// Resolve delivers the final result to whoever is waiting on the Task and
// marks it completed or failed. Safe to call exactly once.
func (t *Task) Resolve(result GenerateResult) {
	if result.Error != nil {
		t.SetStatus(TaskStatusFailed)
	} else {
		t.SetStatus(TaskStatusCompleted)
	}
	t.CompletedAt = time.Now()
	t.resultCh <- result
}

// Wait blocks until Resolve is called or the Task's context is cancelled.
func (t *Task) Wait() (GenerateResult, error) {
	select {
	case r := <-t.resultCh:
		return r, nil
	case <-t.Ctx.Done():
		return GenerateResult{}, t.Ctx.Err()
	}
}

// IsCancelled reports whether the client has disconnected.
func (t *Task) IsCancelled() bool {
	select {
	case <-t.Ctx.Done():
		return true
	default:
		return false
	}
}
