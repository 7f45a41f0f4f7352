package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediabot/pkg/models"
)

// Job is the unit of queued work. The queue runs jobs one at a time and
// treats them as opaque; the context carries worker-shutdown cancellation.
type Job func(ctx context.Context)

type item struct {
	id         string
	ownerID    int64
	link       string
	options    map[string]string
	job        Job
	enqueuedAt time.Time
}

// Queue is an in-memory FIFO of pending jobs with a single worker. Items
// exist only between Enqueue and dequeue; once the worker picks a job up it
// belongs to the job's own tracking (the task registry), not the queue.
type Queue struct {
	mu      sync.Mutex
	items   []*item
	started bool
	log     *zap.Logger

	// wake has capacity 1: Enqueue's non-blocking send coalesces any
	// number of signals into "there is work", which the worker's drain
	// loop then empties completely.
	wake chan struct{}
}

// New creates an empty queue. The worker is not started until StartWorker.
func New(log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends a job and returns its queue id and 1-based position at
// admission time. Positions shift as earlier items leave the queue.
func (q *Queue) Enqueue(ownerID int64, link string, options map[string]string, job Job) (string, int) {
	q.mu.Lock()
	it := &item{
		id:         "q-" + uuid.New().String()[:8],
		ownerID:    ownerID,
		link:       link,
		options:    options,
		job:        job,
		enqueuedAt: time.Now(),
	}
	q.items = append(q.items, it)
	pos := len(q.items)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.log.Info("job enqueued",
		zap.String("queue_id", it.id),
		zap.Int64("owner_id", ownerID),
		zap.Int("position", pos))
	return it.id, pos
}

// Size returns the number of pending items, filtered to one owner when
// ownerID is non-zero. The currently-running job is not counted.
func (q *Queue) Size(ownerID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ownerID == 0 {
		return len(q.items)
	}
	n := 0
	for _, it := range q.items {
		if it.ownerID == ownerID {
			n++
		}
	}
	return n
}

// Pending returns ordered snapshots of the waiting items. When ownerID is
// non-zero the list is filtered first and positions are computed over the
// filtered list, so a user always sees 1..n.
func (q *Queue) Pending(ownerID int64) []models.QueueItemView {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueueItemView, 0, len(q.items))
	for _, it := range q.items {
		if ownerID != 0 && it.ownerID != ownerID {
			continue
		}
		out = append(out, models.QueueItemView{
			QueueID:    it.id,
			OwnerID:    it.ownerID,
			Link:       it.link,
			Options:    it.options,
			Position:   len(out) + 1,
			EnqueuedAt: it.enqueuedAt,
		})
	}
	return out
}

// CancelPending removes a still-waiting item. Returns false when the id is
// unknown, already dequeued, or owned by someone else (ownerID 0 skips the
// ownership check). A job the worker has already picked up is out of reach
// here; cancel it through the task registry instead.
func (q *Queue) CancelPending(queueID string, ownerID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.id != queueID {
			continue
		}
		if ownerID != 0 && it.ownerID != ownerID {
			return false
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		q.log.Info("queued job cancelled", zap.String("queue_id", queueID))
		return true
	}
	return false
}

// StartWorker launches the single worker goroutine. Safe to call more than
// once; only the first call starts anything. The worker stops when ctx is
// cancelled.
func (q *Queue) StartWorker(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.log.Info("queue worker started")
	go q.run(ctx)
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.log.Info("queue worker stopped")
			return
		case <-q.wake:
		}

		for {
			it := q.pop()
			if it == nil {
				break
			}
			if ctx.Err() != nil {
				q.log.Info("queue worker stopped")
				return
			}
			q.runJob(ctx, it)
		}
	}
}

func (q *Queue) pop() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it
}

// runJob executes one job to completion, surviving panics so a bad job
// cannot take the worker down with it.
func (q *Queue) runJob(ctx context.Context, it *item) {
	defer func() {
		if rec := recover(); rec != nil {
			q.log.Error("queued job panicked",
				zap.String("queue_id", it.id),
				zap.Any("panic", rec))
		}
	}()
	q.log.Info("queued job started", zap.String("queue_id", it.id))
	it.job(ctx)
}
