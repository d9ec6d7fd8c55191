// Package executor runs trackers on a shared pool of goroutines.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/SteelMorgan/logtrack/internal/tracker"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultName      = "tracker-pool"
	defaultQueueSize = 100
)

var (
	// ErrNotStarted is returned by Submit before Start
	ErrNotStarted = errors.New("executor not started")
	// ErrShutdown is returned by Submit after Shutdown
	ErrShutdown = errors.New("executor is shut down")
	// ErrQueueFull is returned by Submit when a bounded pool cannot accept more work
	ErrQueueFull = errors.New("executor queue is full")
	// ErrDuplicate is returned by Submit for a tracker that is already queued or running
	ErrDuplicate = errors.New("tracker already submitted")
)

// Config holds the pool policy
type Config struct {
	Name      string // Prefix of worker names in logs
	Workers   int    // 0 runs every tracker on its own goroutine, >0 bounds the pool
	QueueSize int    // Trackers waiting for a worker in a bounded pool (default: 100)

	// OnFault is called on the worker goroutine when a tracker ends with a fault
	OnFault func(t *tracker.Tracker, err error)
}

// Executor runs submitted trackers until they stop
type Executor struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	queue  chan *tracker.Tracker

	mu       sync.Mutex
	started  bool
	closed   bool
	trackers map[string]*tracker.Tracker
	nextID   int
	fault    error // First tracker fault, reported by Err after Shutdown

	active atomic.Int64
}

// New creates an executor. Call Start before submitting.
func New(cfg Config) *Executor {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	if cfg.Workers > 0 && cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		trackers: make(map[string]*tracker.Tracker),
	}
}

// Start launches the workers of a bounded pool. Calling it again is a no-op.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return
	}
	e.started = true

	if e.cfg.Workers > 0 {
		e.queue = make(chan *tracker.Tracker, e.cfg.QueueSize)
		for i := 1; i <= e.cfg.Workers; i++ {
			name := fmt.Sprintf("%s-%d", e.cfg.Name, i)
			e.group.Go(func() error {
				return e.work(name)
			})
		}
	}

	log.Info().
		Str("pool", e.cfg.Name).
		Int("workers", e.cfg.Workers).
		Int("queue_size", e.cfg.QueueSize).
		Msg("Tracker executor started")
}

// Submit schedules t and returns it without waiting for it to run.
// A misconfigured tracker is rejected with its configuration error.
func (e *Executor) Submit(t *tracker.Tracker) (*tracker.Tracker, error) {
	if t == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.State() != tracker.StateNew {
		return nil, tracker.ErrAlreadyStarted
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return nil, ErrShutdown
	case !e.started:
		return nil, ErrNotStarted
	}

	if _, ok := e.trackers[t.ID()]; ok {
		return nil, ErrDuplicate
	}
	e.trackers[t.ID()] = t
	if e.cfg.Workers > 0 {
		select {
		case e.queue <- t:
		default:
			delete(e.trackers, t.ID())
			return nil, ErrQueueFull
		}
	} else {
		e.nextID++
		name := fmt.Sprintf("%s-%d", e.cfg.Name, e.nextID)
		e.group.Go(func() error {
			return e.run(name, t)
		})
	}

	log.Debug().
		Str("tracker_id", t.ID()).
		Str("file", t.Path()).
		Msg("Tracker submitted")
	return t, nil
}

// TrackFromStart submits a tracker that delivers the whole existing content
func (e *Executor) TrackFromStart(path string, handler tracker.LineHandler) (*tracker.Tracker, error) {
	return e.Submit(tracker.FromStart(path, handler))
}

// TrackNewOnly submits a tracker that only delivers newly appended lines
func (e *Executor) TrackNewOnly(path string, handler tracker.LineHandler) (*tracker.Tracker, error) {
	return e.Submit(tracker.NewOnly(path, handler))
}

// TrackWaitIfAbsent submits a tracker that waits for a missing file indefinitely
func (e *Executor) TrackWaitIfAbsent(path string, handler tracker.LineHandler) (*tracker.Tracker, error) {
	return e.Submit(tracker.WaitIfAbsent(path, handler))
}

// TrackWaitIfAbsentN submits a tracker that re-checks a missing file at most times times
func (e *Executor) TrackWaitIfAbsentN(path string, handler tracker.LineHandler, times int) (*tracker.Tracker, error) {
	return e.Submit(tracker.WaitIfAbsentN(path, handler, times))
}

// Active returns the number of trackers currently running on a worker
func (e *Executor) Active() int {
	return int(e.active.Load())
}

// Trackers returns the submitted trackers that have not finished yet
func (e *Executor) Trackers() []*tracker.Tracker {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]*tracker.Tracker, 0, len(e.trackers))
	for _, t := range e.trackers {
		result = append(result, t)
	}
	return result
}

// Shutdown stops every tracker and waits for the workers to return or for
// ctx to end. Trackers still queued are stopped without being run.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, t := range e.trackers {
		t.Stop()
	}
	e.cancel()
	if e.queue != nil {
		close(e.queue)
	}
	e.mu.Unlock()

	log.Info().
		Str("pool", e.cfg.Name).
		Int("active", e.Active()).
		Msg("Shutting down tracker executor")

	done := make(chan error, 1)
	go func() {
		done <- e.group.Wait()
	}()

	select {
	case fault := <-done:
		e.drain()
		e.mu.Lock()
		e.fault = fault
		e.mu.Unlock()
		event := log.Info().Str("pool", e.cfg.Name)
		if fault != nil {
			event = event.AnErr("first_fault", fault)
		}
		event.Msg("Tracker executor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown interrupted: %w", ctx.Err())
	}
}

// Err returns the first fault any tracker ended with. It is set once
// Shutdown has waited for the workers; before that it is nil.
func (e *Executor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fault
}

// work is the loop of one worker of a bounded pool. A fault ends only the
// tracker that hit it; the worker keeps serving the queue and returns the
// first fault it saw.
func (e *Executor) work(name string) error {
	log.Debug().Str("worker", name).Msg("Worker started")

	var first error
	for {
		select {
		case <-e.ctx.Done():
			return first
		case t, ok := <-e.queue:
			if !ok {
				return first
			}
			if err := e.run(name, t); err != nil && first == nil {
				first = err
			}
		}
	}
}

// drain finalizes trackers that were queued but never picked up
func (e *Executor) drain() {
	if e.queue == nil {
		return
	}
	for t := range e.queue {
		t.Stop()
		_ = t.Run(e.ctx)
		e.forget(t)
	}
}

// run executes t and returns its fault, if any
func (e *Executor) run(worker string, t *tracker.Tracker) error {
	logger := log.With().
		Str("worker", worker).
		Str("tracker_id", t.ID()).
		Str("file", t.Path()).
		Logger()
	logger.Debug().Msg("Worker running tracker")

	e.active.Add(1)
	err := t.Run(e.ctx)
	e.active.Add(-1)
	e.forget(t)

	if errors.Is(err, tracker.ErrAlreadyStarted) {
		// Started outside the executor; that session owns the tracker
		logger.Warn().Msg("Tracker was already started, skipping")
		return nil
	}
	if err == nil {
		return nil
	}

	logger.Error().Err(err).Msg("Tracker failed")
	if e.cfg.OnFault != nil {
		e.cfg.OnFault(t, err)
	}
	return fmt.Errorf("tracker %s (%s): %w", t.ID(), t.Path(), err)
}

func (e *Executor) forget(t *tracker.Tracker) {
	e.mu.Lock()
	delete(e.trackers, t.ID())
	e.mu.Unlock()
}
