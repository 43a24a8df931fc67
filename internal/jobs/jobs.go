// Package jobs runs long-lived sync work in the background and lets
// clients follow it. A Registry is constructed once and threaded to whoever
// starts or watches jobs; there is no package-level state.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// EventType names a job event. These are also the SSE event names.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	// DefaultRetention is how long finished jobs stay visible.
	DefaultRetention = 5 * time.Minute

	subscriptionBuffer = 64
	// terminalReserve keeps room in every subscription buffer for the
	// complete/error and done events, which are never dropped.
	terminalReserve = 2
	maxHistory      = 512
)

// ErrNotFound is returned for unknown or collected job ids.
var ErrNotFound = errors.New("jobs: not found")

// Event is one entry in a job's event stream.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Info is a point-in-time snapshot of a job.
type Info struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Params     any        `json:"params,omitempty"`
	Status     Status     `json:"status"`
	Progress   any        `json:"progress,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Reporter publishes progress from inside a running job.
type Reporter interface {
	Progress(data any)
}

// Func is the body of a job. The context is cancelled by Cancel or Close.
type Func func(ctx context.Context, report Reporter) (any, error)

type job struct {
	mu      sync.Mutex
	info    Info
	history []Event
	subs    map[*Subscription]struct{}
	cancel  context.CancelFunc
	now     func() time.Time
	dropped int
}

// Progress implements Reporter.
func (j *job) Progress(data any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.info.Status != StatusRunning {
		return
	}
	j.info.Progress = data
	j.publishLocked(Event{Type: EventProgress, Data: data, At: j.now()})
}

func (j *job) publishLocked(ev Event) {
	j.history = append(j.history, ev)
	if len(j.history) > maxHistory {
		j.history = j.history[len(j.history)-maxHistory:]
	}
	for sub := range j.subs {
		if ev.Type == EventProgress && len(sub.ch) >= cap(sub.ch)-terminalReserve {
			// Slow subscriber; the job must not block on it.
			j.dropped++
			continue
		}
		sub.ch <- ev
	}
}

func (j *job) finish(result any, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	at := j.now()
	j.info.FinishedAt = &at
	if err != nil {
		j.info.Status = StatusFailed
		j.info.Error = err.Error()
		j.publishLocked(Event{Type: EventError, Data: map[string]any{"error": err.Error()}, At: at})
	} else {
		j.info.Status = StatusCompleted
		j.info.Result = result
		j.publishLocked(Event{Type: EventComplete, Data: result, At: at})
	}
	j.publishLocked(Event{Type: EventDone, Data: map[string]any{"status": j.info.Status}, At: at})

	for sub := range j.subs {
		sub.closeLocked()
	}
	j.subs = nil
}

func (j *job) snapshot() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.info
}

// Subscription is a live handle on one job's events.
type Subscription struct {
	job    *job
	ch     chan Event
	closed bool
}

// Events returns the event channel. It first replays every event the job
// has already emitted and is closed after the done event or Unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe stops delivery and closes the channel. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.job.mu.Lock()
	defer s.job.mu.Unlock()
	delete(s.job.subs, s)
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Registry tracks running and recently finished jobs.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*job
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry. Finished jobs are kept for retention
// (DefaultRetention when zero) before GC removes them.
func NewRegistry(retention time.Duration, logger *slog.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		jobs:      make(map[string]*job),
		retention: retention,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithClock overrides the timestamp source. Used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Start runs fn in the background and returns its initial snapshot. The job
// outlives the caller's request; it stops only on Cancel or Close.
func (r *Registry) Start(kind string, params any, fn Func) Info {
	ctx, cancel := context.WithCancel(r.ctx)
	j := &job{
		info: Info{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Kind:      kind,
			Params:    params,
			Status:    StatusRunning,
			StartedAt: r.now(),
		},
		subs:   make(map[*Subscription]struct{}),
		cancel: cancel,
		now:    r.now,
	}

	r.mu.Lock()
	r.jobs[j.info.ID] = j
	r.mu.Unlock()

	r.logger.Info("Job started", "job_id", j.info.ID, "kind", kind)
	r.wg.Add(1)
	go r.run(ctx, j, fn)
	return j.snapshot()
}

func (r *Registry) run(ctx context.Context, j *job, fn Func) {
	defer r.wg.Done()
	defer j.cancel()

	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("job panicked: %v", p)
			}
		}()
		result, err = fn(ctx, j)
	}()

	j.finish(result, err)
	info := j.snapshot()
	if err != nil {
		r.logger.Warn("Job failed", "job_id", info.ID, "kind", info.Kind, "error", err)
	} else {
		r.logger.Info("Job completed", "job_id", info.ID, "kind", info.Kind,
			"duration", info.FinishedAt.Sub(info.StartedAt))
	}
	if j.dropped > 0 {
		r.logger.Debug("Job progress dropped for slow subscribers", "job_id", info.ID, "dropped", j.dropped)
	}
}

func (r *Registry) lookup(id string) (*job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return j, nil
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (Info, error) {
	j, err := r.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return j.snapshot(), nil
}

// List returns snapshots of every retained job, newest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].StartedAt.After(out[b].StartedAt)
		}
		return out[a].ID > out[b].ID
	})
	return out
}

// Subscribe returns a handle on a job's events.
func (r *Registry) Subscribe(id string) (*Subscription, error) {
	j, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	sub := &Subscription{job: j, ch: make(chan Event, len(j.history)+subscriptionBuffer)}
	for _, ev := range j.history {
		sub.ch <- ev
	}
	if j.info.Status != StatusRunning {
		sub.closeLocked()
		return sub, nil
	}
	j.subs[sub] = struct{}{}
	return sub, nil
}

// Cancel asks a running job to stop. The job still emits its error and
// done events.
func (r *Registry) Cancel(id string) error {
	j, err := r.lookup(id)
	if err != nil {
		return err
	}
	j.cancel()
	return nil
}

// GC removes jobs that finished more than the retention period ago and
// returns how many were removed.
func (r *Registry) GC() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, j := range r.jobs {
		info := j.snapshot()
		if info.FinishedAt != nil && info.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// RunGC collects finished jobs every interval until ctx is done.
func (r *Registry) RunGC(ctx context.Context, interval time.Duration) {
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
			if n := r.GC(); n > 0 {
				r.logger.Debug("Collected finished jobs", "removed", n)
			}
		}
	}
}

// Close cancels every running job and waits for them to finish.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
