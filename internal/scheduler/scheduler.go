package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"automator-go/internal/metrics"
	"automator-go/internal/trigger"
	"automator-go/internal/worker"

	"go.uber.org/zap"
)

// Submitter accepts firings for asynchronous execution. Submit must not
// block the scheduling loop.
type Submitter interface {
	Submit(task worker.Task) bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used to evaluate triggers.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// Scheduler watches the registry and hands due firings to a Submitter.
type Scheduler struct {
	registry *Registry
	pool     Submitter
	logger   *zap.SugaredLogger
	clock    func() time.Time

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	wakeup  chan struct{}
}

// New creates a Scheduler with an empty registry.
func New(pool Submitter, logger *zap.SugaredLogger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		registry: NewRegistry(),
		pool:     pool,
		logger:   logger,
		clock:    time.Now,
		wakeup:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds or replaces a job and wakes the loop so a new earliest
// firing is honoured.
func (s *Scheduler) Register(jobID string, t trigger.Trigger, cb Callback) (bool, error) {
	replaced, err := s.registry.Register(jobID, t, cb, s.clock())
	if err != nil {
		return false, fmt.Errorf("register %s: %w", jobID, err)
	}
	s.signalWakeup()
	return replaced, nil
}

// Unregister removes a job. It reports whether the job was present.
func (s *Scheduler) Unregister(jobID string) bool {
	removed := s.registry.Unregister(jobID)
	if removed {
		s.signalWakeup()
	}
	return removed
}

// Lookup returns the live job registered under jobID.
func (s *Scheduler) Lookup(jobID string) (JobInfo, bool) {
	return s.registry.Lookup(jobID)
}

// Jobs lists live jobs ordered by next run.
func (s *Scheduler) Jobs() []JobInfo {
	return s.registry.Snapshot()
}

// Running reports whether the scheduling loop is active.
func (s *Scheduler) Running() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.running
}

// Start launches the scheduling loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.running {
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.schedulingLoop(cctx)
}

// Stop halts the loop and clears the registry. Firings already handed to the
// pool are not affected.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	if !s.running {
		s.lifeMu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.lifeMu.Unlock()

	s.wg.Wait()
	if n := s.registry.reset(); n > 0 {
		s.logger.Infow("Cleared scheduled jobs", "count", n)
	}
}

// signalWakeup notifies the scheduling loop to re-evaluate jobs.
func (s *Scheduler) signalWakeup() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// schedulingLoop sleeps until the soonest firing and dispatches what is due.
func (s *Scheduler) schedulingLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if next, ok := s.registry.nextDue(); ok {
			d := next.Sub(s.clock())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-timerC:
			s.runDue(s.clock())
		case <-s.wakeup:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

// runDue submits every firing due at now and returns how many were accepted.
func (s *Scheduler) runDue(now time.Time) int {
	accepted := 0
	for _, d := range s.registry.collectDue(now) {
		d := d
		metrics.Firings.WithLabelValues(string(d.firing.Kind)).Inc()
		task := worker.TaskFunc(func(ctx context.Context) error {
			d.callback(ctx, d.firing)
			return nil
		})
		if !s.pool.Submit(task) {
			metrics.FiringsRejected.Inc()
			s.logger.Warnw("Dispatch pool rejected firing", "job_id", d.firing.JobID)
			continue
		}
		s.logger.Debugw("Job fired",
			"job_id", d.firing.JobID,
			"scheduled_at", d.firing.ScheduledAt,
			"fired_at", d.firing.FiredAt,
		)
		accepted++
	}
	return accepted
}
