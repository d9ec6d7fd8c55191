package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/SteelMorgan/logtrack/internal/retry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// errAbsent marks a target path that is missing or is a directory
var errAbsent = errors.New("target file is absent")

func isAbsent(err error) bool {
	return errors.Is(err, errAbsent)
}

// Run executes the session on the calling goroutine until the Tracker stops:
// Stop is called, ctx is cancelled, the absence or truncation policy ends it,
// or an I/O fault occurs. Only faults are returned; they are not retried.
// The file handle is closed before Run returns.
func (t *Tracker) Run(ctx context.Context) (err error) {
	cfg, err := t.start()
	if err != nil {
		return err
	}

	t.logger = log.With().
		Str("tracker_id", t.id).
		Str("file", t.path).
		Logger()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	ctx, span := startSpan(runCtx, "tracker.session",
		attribute.String("tracker.id", t.id),
		attribute.String("file.path", t.path),
		attribute.String("tracker.charset", cfg.charset),
		attribute.String("tracker.on_absence", cfg.absence.String()),
		attribute.String("tracker.on_truncate", cfg.truncation.String()),
		attribute.Int64("tracker.initial_offset_from_end", cfg.offsetFromEnd),
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracker panicked: %v", r)
		}
		endSpan(span, err, "tracker session finished")
		t.finish(err)
	}()
	defer t.closeFile()

	if cfg.err != nil {
		return fmt.Errorf("invalid tracker configuration for %s: %w", t.path, cfg.err)
	}
	if !t.running.Load() {
		return nil
	}

	t.splitter = newLineSplitter()
	t.decoder = cfg.enc.NewDecoder()

	found, err := t.awaitFile(ctx, cfg)
	if err != nil || !found {
		return err
	}

	t.state.Store(int32(StateWatching))
	t.initialSeek(span, cfg)

	for t.running.Load() {
		if err := t.poll(ctx, span, cfg); err != nil {
			return err
		}
		if !t.running.Load() || !sleep(ctx, cfg.delay) {
			break
		}
	}
	return nil
}

// start moves the Tracker out of StateNew and snapshots its configuration
func (t *Tracker) start() (settings, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.CompareAndSwap(int32(StateNew), int32(StateAwaitingFile)) {
		return settings{}, ErrAlreadyStarted
	}
	return t.cfg, nil
}

func (t *Tracker) finish(err error) {
	t.running.Store(false)
	t.err = err
	t.state.Store(int32(StateStopped))
	t.publishStats()
	close(t.done)

	if err != nil {
		t.logger.Error().
			Err(err).
			Int64("lines", t.lines.Load()).
			Msg("Tracker stopped on fault")
		return
	}
	t.logger.Info().
		Int64("lines", t.lines.Load()).
		Int64("offset_bytes", t.cursor).
		Msg("Tracker stopped")
}

// awaitFile opens the target, waiting for it according to the absence
// policy. It reports false when the session should end without a fault.
func (t *Tracker) awaitFile(ctx context.Context, cfg settings) (bool, error) {
	attempts := 1
	switch cfg.absence {
	case AbsenceWaitForever:
		attempts = 0
	case AbsenceWaitNTimes:
		attempts = cfg.absenceLimit + 1
	}

	err := retry.Do(ctx, retry.Fixed(cfg.delay, attempts, isAbsent), t.openTarget)
	switch {
	case err == nil:
		return true, nil
	case isAbsent(err):
		t.logger.Info().
			Str("on_absence", cfg.absence.String()).
			Msg("Target file not found, stopping tracker")
		return false, nil
	case ctx.Err() != nil:
		return false, nil
	default:
		return false, fmt.Errorf("failed to open target file: %w", err)
	}
}

// openTarget opens the target path as the Tracker's only handle
func (t *Tracker) openTarget() error {
	info, err := t.fs.Stat(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errAbsent
		}
		return err
	}
	if info.IsDir() {
		return errAbsent
	}

	f, err := t.fs.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errAbsent
		}
		return err
	}

	handleInfo, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat opened file: %w", err)
	}

	t.file = f
	t.fileInfo = handleInfo
	t.missing = false
	t.logger.Debug().
		Int64("size", handleInfo.Size()).
		Msg("Opened target file")
	return nil
}

func (t *Tracker) closeFile() {
	if t.file == nil {
		return
	}
	if err := t.file.Close(); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to close target file")
	}
	t.file = nil
	t.fileInfo = nil
}

func (t *Tracker) initialSeek(span trace.Span, cfg settings) {
	size := t.fileInfo.Size()
	t.cursor = startOffset(size, cfg.offsetFromEnd)
	t.lastLen = size
	t.lastMod = time.Time{}
	t.publishStats()

	span.AddEvent("file.opened", trace.WithAttributes(
		attribute.Int64("file.size", size),
		attribute.Int64("offset_bytes", t.cursor),
	))
	t.logger.Info().
		Int64("size", size).
		Int64("offset_bytes", t.cursor).
		Msg("Tracking file")
}

// poll runs one iteration of the watch loop
func (t *Tracker) poll(ctx context.Context, span trace.Span, cfg settings) error {
	info, err := t.fs.Stat(t.path)
	switch {
	case err == nil && !info.IsDir():
		if t.missing {
			t.logger.Info().Msg("Target path is back")
			t.missing = false
		}
	case err == nil || errors.Is(err, fs.ErrNotExist):
		if !t.missing {
			t.logger.Warn().Msg("Target path disappeared, following the open handle")
			t.missing = true
		}
		if t.file == nil {
			return nil
		}
		if info, err = t.file.Stat(); err != nil {
			return fmt.Errorf("failed to stat open file: %w", err)
		}
	default:
		return fmt.Errorf("failed to stat target file: %w", err)
	}

	size := info.Size()
	switch {
	case t.file == nil || !os.SameFile(t.fileInfo, info):
		if err := t.drain(ctx); err != nil {
			return err
		}
		ok, err := t.reopen()
		if err != nil || !ok {
			return err
		}
		// The new file may have grown since the path was stat'ed
		info = t.fileInfo
		size = info.Size()
		t.applyTruncation(span, cfg, size, "rotated")
	case !info.ModTime().After(t.lastMod) && size == t.lastLen:
		return nil
	case (size < t.lastLen && size <= t.cursor) || size < t.cursor:
		t.applyTruncation(span, cfg, size, "truncated")
	}

	if t.running.Load() {
		if err := t.readNew(ctx, size); err != nil {
			return err
		}
	}

	t.lastMod = info.ModTime()
	t.lastLen = size
	t.publishStats()
	return nil
}

// drain reads what was appended to the current handle before the path was
// taken over by another file
func (t *Tracker) drain(ctx context.Context) error {
	if t.file == nil {
		return nil
	}
	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat replaced file: %w", err)
	}
	if info.Size() <= t.cursor {
		return nil
	}
	return t.readNew(ctx, info.Size())
}

// reopen swaps the handle for the file now found at the target path.
// The old handle is closed first so that at most one is open.
func (t *Tracker) reopen() (bool, error) {
	t.closeFile()
	if err := t.openTarget(); err != nil {
		if isAbsent(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to reopen target file: %w", err)
	}
	return true, nil
}

func (t *Tracker) applyTruncation(span trace.Span, cfg settings, size int64, reason string) {
	previous := t.cursor
	switch cfg.truncation {
	case TruncateRewindToHead:
		t.cursor = 0
	case TruncateRewindToOffset:
		t.cursor = startOffset(size, cfg.offsetFromEnd)
	case TruncateContinueAtEnd:
		t.cursor = size
	case TruncateStop:
		t.running.Store(false)
	}
	t.splitter.Reset()
	t.truncations.Add(1)

	span.AddEvent("file."+reason, trace.WithAttributes(
		attribute.Int64("file.size", size),
		attribute.Int64("offset_bytes.previous", previous),
		attribute.Int64("offset_bytes", t.cursor),
	))
	t.logger.Info().
		Str("reason", reason).
		Str("on_truncate", cfg.truncation.String()).
		Int64("size", size).
		Int64("previous_offset", previous).
		Int64("offset_bytes", t.cursor).
		Msg("File shrank or was replaced")
}

// readNew reads from the cursor up to size and dispatches complete lines
func (t *Tracker) readNew(ctx context.Context, size int64) error {
	if t.buf == nil {
		t.buf = make([]byte, readChunkSize)
	}

	for t.cursor < size && t.running.Load() {
		n := size - t.cursor
		if n > int64(len(t.buf)) {
			n = int64(len(t.buf))
		}

		read, err := t.file.ReadAt(t.buf[:n], t.cursor)
		if read > 0 {
			t.cursor += int64(read)
			flushed, ferr := t.splitter.Feed(t.buf[:read], t.deliver)
			if ferr != nil {
				return ferr
			}
			if flushed {
				t.logger.Warn().
					Int("max_line_bytes", maxLineBytes).
					Msg("Line too long, delivered partial line")
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read target file at offset %d: %w", t.cursor, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

// deliver decodes one raw line and hands it to the handler
func (t *Tracker) deliver(raw []byte) error {
	if !t.running.Load() {
		return nil
	}

	line, err := t.decoder.Bytes(raw)
	if err != nil {
		return fmt.Errorf("failed to decode line at offset %d: %w", t.cursor, err)
	}

	index := t.lines.Load()
	if err := t.handler.Handle(string(line), index, t); err != nil {
		t.logger.Error().
			Err(err).
			Int64("line_index", index).
			Msg("Handler failed")
	}
	t.lines.Add(1)
	return nil
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
