package tasks

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediabot/pkg/models"
	"mediabot/pkg/progress"
)

// Status is the lifecycle state of a registered task
type Status string

const (
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Task is one in-flight download/upload job. Identity fields are immutable
// after creation; mutable fields are guarded by the owning registry's lock.
// Cancellation is cooperative: the registry cancels the task's context and
// best-effort terminates any attached subprocess, but the job's own loop is
// the authority on when it actually stops.
type Task struct {
	ID        string
	OwnerID   int64
	ChatID    int64
	Label     string
	StartTime time.Time

	ctx    context.Context
	cancel context.CancelFunc

	cancelRequested atomic.Bool

	// guarded by Registry.mu
	status   Status
	proc     *os.Process
	reporter *progress.Reporter
}

// Context returns the task's cancellation context. Job closures should
// derive their subprocess and I/O lifetimes from it.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Done returns a channel closed once cancellation has been requested.
func (t *Task) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Cancelled reports whether cancellation has been requested. The flag is
// one-shot: once set it stays set.
func (t *Task) Cancelled() bool {
	return t.cancelRequested.Load()
}

// Registry tracks all currently-running jobs and provides cooperative
// cancellation. Tasks live only while running; Finish removes them with no
// historical retention.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	log   *zap.Logger
}

// NewRegistry creates an empty task registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		tasks: make(map[string]*Task),
		log:   log,
	}
}

// Create allocates a fresh task with a unique short id and status running.
// It always succeeds; no capacity limit is enforced at this layer.
func (r *Registry) Create(ownerID, chatID int64, label string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := shortID()
	for _, exists := r.tasks[id]; exists; _, exists = r.tasks[id] {
		id = shortID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		ID:        id,
		OwnerID:   ownerID,
		ChatID:    chatID,
		Label:     label,
		StartTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusRunning,
	}
	r.tasks[id] = t

	r.log.Info("task created",
		zap.String("task_id", id),
		zap.Int64("owner_id", ownerID),
		zap.String("label", label))
	return t
}

// RegisterSubprocess attaches an OS process to a task so cancellation can
// terminate it. Silently ignored if the task no longer exists; finish may
// race with late registration and that is not an error.
func (r *Registry) RegisterSubprocess(taskID string, proc *os.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return
	}
	t.proc = proc
	if proc != nil {
		r.log.Debug("subprocess registered", zap.String("task_id", taskID), zap.Int("pid", proc.Pid))
	}
}

// ClearSubprocess detaches the process handle, e.g. after it exits on its
// own. No-op if the task is gone.
func (r *Registry) ClearSubprocess(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[taskID]; ok {
		t.proc = nil
	}
}

// AttachProgress associates a progress reporter with a task for status
// rendering. No-op if the task is gone.
func (r *Registry) AttachProgress(taskID string, reporter *progress.Reporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[taskID]; ok {
		t.reporter = reporter
	}
}

// Cancel requests cooperative cancellation of a task. Returns false only
// when no such task exists; repeated calls on a live task keep returning
// true without re-signalling anything.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return false
	}
	r.cancelLocked(t)
	return true
}

// CancelAll cancels every task, filtered to one owner when ownerID is
// non-zero. Returns the number of tasks newly moved to cancelling; tasks
// already cancelling are not recounted, and finished tasks are silently
// skipped (they are no longer registered).
func (r *Registry) CancelAll(ownerID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, t := range r.tasks {
		if ownerID != 0 && t.OwnerID != ownerID {
			continue
		}
		if r.cancelLocked(t) {
			count++
		}
	}
	return count
}

// cancelLocked flips the task to cancelling and terminates its subprocess.
// Returns true if the task was newly transitioned. Callers must hold r.mu.
func (r *Registry) cancelLocked(t *Task) bool {
	if t.cancelRequested.Load() {
		return false
	}
	t.cancelRequested.Store(true)
	t.status = StatusCancelling
	t.cancel()
	if t.proc != nil {
		// Best-effort: termination failures are logged and swallowed.
		// The job loop observes the cancel signal and exits cleanly.
		if err := t.proc.Signal(syscall.SIGTERM); err != nil {
			r.log.Debug("subprocess terminate failed",
				zap.String("task_id", t.ID), zap.Error(err))
		}
	}
	r.log.Info("task cancellation requested", zap.String("task_id", t.ID))
	return true
}

// Finish removes the task from the registry, recording the final status for
// logging only. Once cancellation has been requested a final status of done
// is rewritten to cancelled: cancel wins. No-op if already removed.
func (r *Registry) Finish(taskID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return
	}
	if status == StatusDone && t.cancelRequested.Load() {
		status = StatusCancelled
	}
	t.status = status
	t.cancel()
	delete(r.tasks, taskID)
	r.log.Info("task finished",
		zap.String("task_id", taskID),
		zap.String("status", string(status)))
}

// Get returns the live task for taskID, if registered.
func (r *Registry) Get(taskID string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskID]
	return t, ok
}

// List returns snapshots of the current tasks, filtered to one owner when
// ownerID is non-zero.
func (r *Registry) List(ownerID int64) []models.TaskSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.TaskSnapshot, 0, len(r.tasks))
	for _, t := range r.tasks {
		if ownerID != 0 && t.OwnerID != ownerID {
			continue
		}
		snap := models.TaskSnapshot{
			TaskID:    t.ID,
			OwnerID:   t.OwnerID,
			ChatID:    t.ChatID,
			Label:     t.Label,
			Status:    string(t.status),
			StartTime: t.StartTime,
		}
		if t.reporter != nil {
			snap.Stage = string(t.reporter.Stage())
		}
		out = append(out, snap)
	}
	return out
}

// shortID returns an 8-character task id. Uniqueness among live tasks is
// enforced by Create; ids may be reused after a task finishes.
func shortID() string {
	id := uuid.New()
	return id.String()[:8]
}
