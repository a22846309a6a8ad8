// Package scheduler runs named periodic tasks on fixed intervals or
// cron expressions. A Scheduler is an explicit object owned by its
// caller; there is no package-level instance and no hidden state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// TaskFunc is one task body. Bodies run on their own goroutine per
// firing and receive a context detached from the scheduler's lifetime,
// so Stop never interrupts an invocation already in flight.
type TaskFunc func(ctx context.Context)

// TaskInfo describes one scheduled task for the diagnostics surface.
type TaskInfo struct {
	ID      string    `json:"id"`
	NextRun time.Time `json:"next_run"`
	Trigger string    `json:"trigger"`
}

type task struct {
	id     string
	every  time.Duration
	cron   string
	fn     TaskFunc
	cancel context.CancelFunc

	// nextRun is guarded by the scheduler mutex.
	nextRun time.Time
}

func (t *task) trigger() string {
	if t.cron != "" {
		return "cron " + t.cron
	}
	return "every " + t.every.String()
}

func (t *task) nextDelay(now time.Time) (time.Duration, error) {
	if t.cron != "" {
		next, err := gronx.NextTickAfter(t.cron, now, false)
		if err != nil {
			return 0, err
		}
		return next.Sub(now), nil
	}
	return t.every, nil
}

// Scheduler dispatches named periodic tasks. Each task runs on its own
// timer goroutine; task ids are unique and re-adding an id replaces the
// previous schedule.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	order   []string
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Add registers a task under id, replacing any existing schedule with
// the same id. A non-empty cronExpr takes precedence over the fixed
// interval. If the scheduler is running the new task starts
// immediately; the replaced one fires no more.
func (s *Scheduler) Add(id string, every time.Duration, cronExpr string, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tasks[id]; ok {
		if prev.cancel != nil {
			prev.cancel()
		}
		s.logger.Debug("replacing scheduled task", "task", id)
	} else {
		s.order = append(s.order, id)
	}

	t := &task{id: id, every: every, cron: cronExpr, fn: fn}
	s.tasks[id] = t
	if s.running {
		s.launch(t)
	}
}

// Start launches a timer goroutine for every registered task. Calling
// Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, id := range s.order {
		s.launch(s.tasks[id])
	}
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels every timer goroutine and returns without waiting.
// Invocations already in flight complete on their own and still record
// their outcome.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	for _, t := range s.tasks {
		t.cancel = nil
	}
	s.logger.Info("scheduler stopped")
}

// Snapshot reports every registered task in registration order. NextRun
// is the zero time while the scheduler is stopped.
func (s *Scheduler) Snapshot() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(s.order))
	for _, id := range s.order {
		t := s.tasks[id]
		info := TaskInfo{ID: t.id, Trigger: t.trigger()}
		if s.running {
			info.NextRun = t.nextRun
		}
		infos = append(infos, info)
	}
	return infos
}

// launch starts the timer goroutine for t. Caller holds the mutex.
func (s *Scheduler) launch(t *task) {
	ctx, cancel := context.WithCancel(s.ctx)
	t.cancel = cancel
	go s.runLoop(ctx, t)
}

func (s *Scheduler) runLoop(ctx context.Context, t *task) {
	for {
		delay, err := t.nextDelay(time.Now())
		if err != nil {
			s.logger.Error("task schedule invalid, task disabled", "task", t.id, "error", err)
			return
		}
		s.setNextRun(t, time.Now().Add(delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// The body runs detached from the timer goroutine: a slow
		// invocation never delays the next firing, and Stop never
		// aborts work already underway. Overlapping invocations of
		// the same task are therefore possible when a run outlives
		// its interval.
		s.logger.Debug("task firing", "task", t.id)
		go t.fn(context.WithoutCancel(ctx))
	}
}

func (s *Scheduler) setNextRun(t *task, at time.Time) {
	s.mu.Lock()
	t.nextRun = at
	s.mu.Unlock()
}
