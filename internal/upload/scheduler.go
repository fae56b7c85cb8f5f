package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the periodic flush interval.
const DefaultSchedule = "@every 15m"

// DefaultFlushThreshold is the queue size that triggers an eager flush.
const DefaultFlushThreshold = 5

// cronParser supports standard 5-field expressions, an optional seconds field
// and descriptors such as "@every 15m".
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// SchedulerConfig configures the flush scheduler.
type SchedulerConfig struct {
	// Logger for scheduler events.
	Logger *slog.Logger
}

// Scheduler runs worker flushes on one background goroutine. Flushes are
// requested eagerly (queue threshold), explicitly (visibility changes) or on
// each worker's cron schedule. Requests made while a flush is pending are
// coalesced.
type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron

	workers map[string]*Worker
	order   []string

	pendingMu sync.Mutex
	pending   map[string]bool
	wake      chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a Scheduler without workers.
func NewScheduler(config SchedulerConfig) *Scheduler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:  logger.With("component", "upload-scheduler"),
		cron:    cron.New(cron.WithParser(cronParser)),
		workers: map[string]*Worker{},
		pending: map[string]bool{},
		wake:    make(chan struct{}, 1),
	}
}

// Register adds w with its periodic schedule. An empty schedule uses
// DefaultSchedule. Register must be called before Start.
func (s *Scheduler) Register(w *Worker, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	name := w.Name()
	if _, ok := s.workers[name]; ok {
		return fmt.Errorf("worker for queue %s already registered", name)
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Trigger(name) }); err != nil {
		return fmt.Errorf("schedule %s flush: %w", name, err)
	}
	s.workers[name] = w
	s.order = append(s.order, name)
	return nil
}

// ThresholdHook returns a queue OnAdd hook that requests a flush of queue name
// once its size reaches threshold.
func (s *Scheduler) ThresholdHook(name string, threshold int) func(size int) {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return func(size int) {
		if size >= threshold {
			s.Trigger(name)
		}
	}
}

// Trigger requests a flush of the named queues, or of every queue when no
// name is given. It never blocks.
func (s *Scheduler) Trigger(names ...string) {
	if len(names) == 0 {
		names = s.order
	}
	s.pendingMu.Lock()
	for _, name := range names {
		if _, ok := s.workers[name]; ok {
			s.pending[name] = true
		}
	}
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// FlushAll flushes every registered queue now, on the caller's goroutine.
func (s *Scheduler) FlushAll(ctx context.Context) error {
	var errs []error
	for _, name := range s.order {
		if err := s.workers[name].Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Start begins the flush loop and the periodic schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("starting upload scheduler", "queues", s.order)
	s.cron.Start()

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop halts the schedules and waits for an in-progress flush to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping upload scheduler")
	<-s.cron.Stop().Done()
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.runPending(ctx)
		}
	}
}

func (s *Scheduler) runPending(ctx context.Context) {
	s.pendingMu.Lock()
	names := make([]string, 0, len(s.pending))
	for _, name := range s.order {
		if s.pending[name] {
			names = append(names, name)
			delete(s.pending, name)
		}
	}
	s.pendingMu.Unlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		if err := s.workers[name].Flush(ctx); err != nil {
			s.logger.Warn("scheduled flush failed", "queue", name, "error", err)
		}
	}
}
