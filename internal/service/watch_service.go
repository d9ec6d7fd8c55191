package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/SteelMorgan/logtrack/internal/config"
	"github.com/SteelMorgan/logtrack/internal/executor"
	"github.com/SteelMorgan/logtrack/internal/tracker"
	"github.com/rs/zerolog/log"
)

// WatchService tails every configured file on a shared executor and writes
// the lines to one output
type WatchService struct {
	cfg  *config.Config
	exec *executor.Executor

	mu  sync.Mutex // Guards out and trackers
	out *bufio.Writer

	prefix   bool // Prefix lines with their file path when several files are tailed
	trackers []*tracker.Tracker
	faults   chan error
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWatchService creates a new watch service writing lines to out
func NewWatchService(cfg *config.Config, out io.Writer) (*WatchService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if out == nil {
		return nil, fmt.Errorf("output is required")
	}

	s := &WatchService{
		cfg:      cfg,
		out:      bufio.NewWriter(out),
		prefix:   len(cfg.Watches) > 1,
		faults:   make(chan error, len(cfg.Watches)),
		stopChan: make(chan struct{}),
	}
	s.exec = executor.New(executor.Config{
		Name:      "watch",
		Workers:   cfg.PoolWorkers,
		QueueSize: cfg.PoolQueueSize,
		OnFault: func(t *tracker.Tracker, err error) {
			select {
			case s.faults <- fmt.Errorf("%s: %w", t.Path(), err):
			default:
			}
		},
	})
	return s, nil
}

// Start submits one tracker per watch and blocks until ctx is cancelled,
// Stop is called or every tracker has finished. A fault of one tracker is
// logged and does not affect the others.
func (s *WatchService) Start(ctx context.Context) error {
	log.Info().
		Int("watches", len(s.cfg.Watches)).
		Int("workers", s.cfg.PoolWorkers).
		Msg("Watch service starting...")

	s.exec.Start()

	for _, w := range s.cfg.Watches {
		t, err := w.Tracker(tracker.LineHandlerFunc(s.handleLine))
		if err != nil {
			return fmt.Errorf("failed to configure tracker: %w", err)
		}
		if _, err := s.exec.Submit(t); err != nil {
			return fmt.Errorf("failed to submit tracker for %s: %w", w.Path, err)
		}
		s.mu.Lock()
		s.trackers = append(s.trackers, t)
		s.mu.Unlock()

		log.Info().
			Str("tracker_id", t.ID()).
			Str("file", w.Path).
			Str("charset", w.Charset).
			Dur("delay", w.Delay).
			Str("on_absence", w.OnAbsence).
			Str("on_truncate", w.OnTruncate).
			Msg("Watching file")
	}

	trackers := s.Trackers()
	allDone := make(chan struct{})
	go func() {
		for _, t := range trackers {
			<-t.Done()
		}
		close(allDone)
	}()

	var tick <-chan time.Time
	if s.cfg.ProgressInterval > 0 {
		ticker := time.NewTicker(s.cfg.ProgressInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopChan:
			return nil
		case <-allDone:
			s.flush()
			log.Info().Msg("All trackers finished")
			return nil
		case err := <-s.faults:
			log.Warn().Err(err).Msg("Tracker stopped with a fault")
		case <-tick:
			s.flush()
			s.reportProgress()
		}
	}
}

// Stop stops every tracker and waits for the executor to drain
func (s *WatchService) Stop(ctx context.Context) error {
	log.Info().Msg("Watch service stopping...")
	s.stopOnce.Do(func() { close(s.stopChan) })

	err := s.exec.Shutdown(ctx)
	s.flush()
	if err != nil {
		return fmt.Errorf("failed to stop trackers: %w", err)
	}
	return nil
}

// Trackers returns the trackers started by the service
func (s *WatchService) Trackers() []*tracker.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*tracker.Tracker(nil), s.trackers...)
}

func (s *WatchService) handleLine(line string, _ int64, t *tracker.Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prefix {
		if _, err := s.out.WriteString(t.Path() + ": "); err != nil {
			return err
		}
	}
	if _, err := s.out.WriteString(line); err != nil {
		return err
	}
	if err := s.out.WriteByte('\n'); err != nil {
		return err
	}

	// Keep output line-buffered for interactive use
	return s.out.Flush()
}

func (s *WatchService) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.out.Flush(); err != nil {
		log.Error().Err(err).Msg("Failed to flush output")
	}
}

func (s *WatchService) reportProgress() {
	for _, t := range s.Trackers() {
		p := t.Progress()
		log.Info().
			Str("tracker_id", p.TrackerID).
			Str("file", p.FilePath).
			Str("state", p.State).
			Int64("file_size", p.FileSizeBytes).
			Int64("offset", p.OffsetBytes).
			Int64("lines", p.LinesRead).
			Uint32("truncations", p.Truncations).
			Time("last_mod", p.LastModTime).
			Msg("Tracker progress")
	}
}
