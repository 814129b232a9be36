package importer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateCreated    State = "created"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
)

// Snapshot is a point-in-time copy of a task.
type Snapshot struct {
	ID            string
	Kind          Kind
	Filename      string
	State         State
	Total         int
	Processed     int
	Success       int
	Failed        int
	Current       int
	Errors        []string
	ErrorsOmitted int
	Error         string
	Completed     bool
	Cached        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type task struct {
	snap     Snapshot
	lastPoll time.Time
	served   *Snapshot
}

// Tracker is the registry of import tasks of this process.
type Tracker struct {
	mu        sync.Mutex
	tasks     map[string]*task
	ttl       time.Duration
	minPoll   time.Duration
	maxErrors int
	now       func() time.Time
}

type TrackerOption func(*Tracker)

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithMaxErrors caps the warnings kept per task; further ones are only counted.
func WithMaxErrors(n int) TrackerOption {
	return func(t *Tracker) { t.maxErrors = n }
}

func NewTracker(ttl, minPoll time.Duration, opts ...TrackerOption) *Tracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	t := &Tracker{
		tasks:     map[string]*task{},
		ttl:       ttl,
		minPoll:   minPoll,
		maxErrors: 1000,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create registers a new task and returns its id.
func (t *Tracker) Create(kind Kind, filename string, total int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	id := uuid.NewString()
	t.tasks[id] = &task{snap: Snapshot{
		ID:        id,
		Kind:      kind,
		Filename:  filename,
		State:     StateCreated,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	return id
}

// SetTotal records the row count once the file has been parsed.
func (t *Tracker) SetTotal(id string, total int) {
	t.update(id, func(s *Snapshot) {
		if !s.Completed && total > s.Total {
			s.Total = total
		}
	})
}

// Begin moves a created task to processing.
func (t *Tracker) Begin(id string) {
	t.update(id, func(s *Snapshot) {
		if s.State == StateCreated {
			s.State = StateProcessing
		}
	})
}

// Advance adds the outcome of one batch. Negative deltas are ignored.
func (t *Tracker) Advance(id string, processed, success, failed, current int, warnings []string) {
	t.update(id, func(s *Snapshot) {
		if s.State == StateCreated {
			s.State = StateProcessing
		}
		s.Processed += max(processed, 0)
		s.Success += max(success, 0)
		s.Failed += max(failed, 0)
		if current > s.Current {
			s.Current = current
		}
		t.appendErrors(s, warnings)
	})
}

// Complete finishes a task. A non-empty message marks a job-level failure: rows that
// were never processed are counted as failed. It reports whether this call completed it.
func (t *Tracker) Complete(id, message string) bool {
	done := false
	t.update(id, func(s *Snapshot) {
		if s.Completed {
			return
		}
		done = true
		if message != "" {
			s.Error = message
			if rest := s.Total - s.Processed; rest > 0 {
				s.Failed += rest
				s.Processed = s.Total
			}
			t.appendErrors(s, []string{message})
		}
		s.State = StateCompleted
		s.Completed = true
	})
	return done
}

func (t *Tracker) appendErrors(s *Snapshot, warnings []string) {
	for _, w := range warnings {
		if t.maxErrors > 0 && len(s.Errors) >= t.maxErrors {
			s.ErrorsOmitted++
			continue
		}
		s.Errors = append(s.Errors, w)
	}
}

func (t *Tracker) update(id string, fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return
	}
	fn(&tk.snap)
	tk.snap.UpdatedAt = t.now()
}

// Snapshot returns the task state for a poll. Polls closer together than the minimum
// interval get the previously served snapshot with Cached set.
func (t *Tracker) Snapshot(id string) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	tk, ok := t.tasks[id]
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	if t.expired(tk, now) {
		delete(t.tasks, id)
		return Snapshot{}, ErrTaskNotFound
	}

	if tk.served != nil && now.Sub(tk.lastPoll) < t.minPoll {
		cached := copySnapshot(*tk.served)
		cached.Cached = true
		return cached, nil
	}

	fresh := copySnapshot(tk.snap)
	tk.served = &fresh
	tk.lastPoll = now
	return copySnapshot(fresh), nil
}

// Peek returns the current state without counting as a poll.
func (t *Tracker) Peek(id string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return copySnapshot(tk.snap), true
}

// Clear removes a finished task.
func (t *Tracker) Clear(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !tk.snap.Completed {
		return ErrTaskRunning
	}
	delete(t.tasks, id)
	return nil
}

// Sweep evicts expired tasks and returns how many were dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	dropped := 0
	for id, tk := range t.tasks {
		if t.expired(tk, now) {
			delete(t.tasks, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

func (t *Tracker) expired(tk *task, now time.Time) bool {
	last := tk.snap.UpdatedAt
	if tk.lastPoll.After(last) {
		last = tk.lastPoll
	}
	return now.Sub(last) > t.ttl
}

func copySnapshot(s Snapshot) Snapshot {
	if s.Errors != nil {
		s.Errors = append([]string(nil), s.Errors...)
	}
	return s
}
