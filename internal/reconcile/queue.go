package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrQueueStopped = errors.New("reconcile queue is stopped")

type reconciler interface {
	Reconcile(ctx context.Context, customerID uuid.UUID) error
}

// Queue runs reconciliations in the background on a fixed number of workers. A customer
// already waiting in the queue is not queued twice. Failures are logged.
type Queue struct {
	r       reconciler
	workers int
	logger  *slog.Logger

	jobs    chan uuid.UUID
	sendMu  sync.RWMutex
	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewQueue(r reconciler, workers, buffer int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = workers * 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		r:       r,
		workers: workers,
		logger:  logger.With("component", "reconcile_queue"),
		jobs:    make(chan uuid.UUID, buffer),
		pending: map[uuid.UUID]struct{}{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for id := range q.jobs {
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()

		if err := q.r.Reconcile(q.ctx, id); err != nil {
			q.logger.Error("reconcile_failed", "customer_id", id, "error", err)
		}
	}
}

// Enqueue schedules a reconciliation. It blocks while the buffer is full and returns
// false when id was already pending.
func (q *Queue) Enqueue(ctx context.Context, id uuid.UUID) (bool, error) {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false, ErrQueueStopped
	}
	if _, dup := q.pending[id]; dup {
		q.mu.Unlock()
		return false, nil
	}
	q.pending[id] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- id:
		return true, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		return false, ctx.Err()
	case <-q.ctx.Done():
		return false, ErrQueueStopped
	}
}

// EnqueueAll schedules every id and returns how many were newly queued.
func (q *Queue) EnqueueAll(ctx context.Context, ids []uuid.UUID) (int, error) {
	queued := 0
	for _, id := range ids {
		ok, err := q.Enqueue(ctx, id)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	return queued, nil
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting work, lets the workers drain what is queued and waits for them.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.sendMu.Lock()
	close(q.jobs)
	q.sendMu.Unlock()
	q.wg.Wait()
	q.cancel()
}
