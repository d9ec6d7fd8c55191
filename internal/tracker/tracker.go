// Package tracker tails a single growing file and hands every appended line
// to a LineHandler. A Tracker survives truncation, rotation and absence of
// its target according to configurable policies.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SteelMorgan/logtrack/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
)

// DefaultDelay is the poll interval used when none is configured
const DefaultDelay = time.Second

// ErrAlreadyStarted is returned by Run when the session was started before
var ErrAlreadyStarted = errors.New("tracker already started")

// LineHandler receives every line read by a Tracker. index starts at 0 and
// grows by one per line for the lifetime of the Tracker. A returned error is
// logged and does not stop the Tracker; call t.Stop() for that.
type LineHandler interface {
	Handle(line string, index int64, t *Tracker) error
}

// LineHandlerFunc adapts a function to LineHandler
type LineHandlerFunc func(line string, index int64, t *Tracker) error

// Handle calls f(line, index, t)
func (f LineHandlerFunc) Handle(line string, index int64, t *Tracker) error {
	return f(line, index, t)
}

// Lines adapts a callback that only needs the line text
func Lines(fn func(line string)) LineHandler {
	return LineHandlerFunc(func(line string, _ int64, _ *Tracker) error {
		fn(line)
		return nil
	})
}

// settings is the configuration snapshot taken when a session starts
type settings struct {
	delay         time.Duration
	charset       string
	enc           encoding.Encoding
	offsetFromEnd int64
	absence       AbsencePolicy
	absenceLimit  int
	truncation    TruncationPolicy
	err           error // first configuration error
}

// Tracker watches one file. Configure it with the fluent setters, then run
// it with Run or hand it to an executor. Setters have no effect once the
// session has started.
type Tracker struct {
	id      string
	path    string
	handler LineHandler

	mu  sync.Mutex // guards cfg, fs and the transition out of StateNew
	cfg settings
	fs  FS

	state   atomic.Int32
	running atomic.Bool
	lines   atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	err      error // valid once done is closed

	statsMu     sync.RWMutex
	stats       sessionStats
	truncations atomic.Uint32

	// session state, owned by the goroutine executing Run
	logger   zerolog.Logger
	file     File
	fileInfo os.FileInfo
	cursor   int64
	lastMod  time.Time
	lastLen  int64
	missing  bool
	splitter *lineSplitter
	decoder  *encoding.Decoder
	buf      []byte
}

type sessionStats struct {
	size    int64
	offset  int64
	modTime time.Time
}

// New creates a Tracker for path. A nil handler discards lines.
func New(path string, handler LineHandler) *Tracker {
	if handler == nil {
		handler = Lines(func(string) {})
	}

	enc, name, err := lookupCharset(DefaultCharset)
	t := &Tracker{
		id:      uuid.NewString(),
		path:    path,
		handler: handler,
		fs:      OS(),
		cfg: settings{
			delay:      DefaultDelay,
			charset:    name,
			enc:        enc,
			absence:    AbsenceStop,
			truncation: TruncateRewindToHead,
			err:        err,
		},
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.running.Store(true)
	return t
}

// FromStart creates a Tracker that first delivers the whole existing content
func FromStart(path string, handler LineHandler) *Tracker {
	return New(path, handler).InitialOffsetBytesFromEnd(math.MaxInt64)
}

// NewOnly creates a Tracker that skips existing content and only delivers
// lines appended after the session starts
func NewOnly(path string, handler LineHandler) *Tracker {
	return New(path, handler).InitialOffsetBytesFromEnd(0)
}

// WaitIfAbsent creates a Tracker that waits for the file to appear for as
// long as it takes
func WaitIfAbsent(path string, handler LineHandler) *Tracker {
	return New(path, handler).OnAbsence(AbsenceWaitForever)
}

// WaitIfAbsentN creates a Tracker that re-checks a missing file at most
// times times before giving up
func WaitIfAbsentN(path string, handler LineHandler, times int) *Tracker {
	return New(path, handler).OnAbsence(AbsenceWaitNTimes, times)
}

// configure applies fn to the settings while the Tracker is still new
func (t *Tracker) configure(option string, fn func(*settings)) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	if State(t.state.Load()) != StateNew {
		log.Warn().
			Str("tracker_id", t.id).
			Str("option", option).
			Msg("Ignoring configuration change on a started tracker")
		return t
	}
	fn(&t.cfg)
	return t
}

func (s *settings) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Delay sets the poll interval
func (t *Tracker) Delay(d time.Duration) *Tracker {
	return t.configure("delay", func(s *settings) {
		if d <= 0 {
			s.fail(fmt.Errorf("delay must be positive, got %s", d))
			return
		}
		s.delay = d
	})
}

// Charset sets the charset used to decode lines (any WHATWG encoding label
// of an ASCII-compatible encoding, e.g. "utf-8", "windows-1251", "koi8-r")
func (t *Tracker) Charset(label string) *Tracker {
	return t.configure("charset", func(s *settings) {
		enc, name, err := lookupCharset(label)
		if err != nil {
			s.fail(err)
			return
		}
		s.enc, s.charset = enc, name
	})
}

// InitialOffsetBytesFromEnd sets how many bytes before the end of the file
// the session starts reading: reading starts at max(0, length-n). 0 starts at
// the end of the file, so only new content is delivered; a value not smaller
// than the file length delivers the whole file.
func (t *Tracker) InitialOffsetBytesFromEnd(n int64) *Tracker {
	return t.configure("initial_offset", func(s *settings) {
		if n < 0 {
			s.fail(fmt.Errorf("initial offset must not be negative, got %d", n))
			return
		}
		s.offsetFromEnd = n
	})
}

// OnAbsence sets the absence policy. limit is the number of re-checks used
// by AbsenceWaitNTimes and is ignored otherwise.
func (t *Tracker) OnAbsence(policy AbsencePolicy, limit ...int) *Tracker {
	return t.configure("on_absence", func(s *settings) {
		switch policy {
		case AbsenceStop, AbsenceWaitForever:
		case AbsenceWaitNTimes:
			if len(limit) == 0 || limit[0] < 0 {
				s.fail(fmt.Errorf("absence policy %s needs a non-negative limit", policy))
				return
			}
			s.absenceLimit = limit[0]
		default:
			s.fail(fmt.Errorf("unknown absence policy %d", int(policy)))
			return
		}
		s.absence = policy
	})
}

// OnTruncate sets the truncation policy
func (t *Tracker) OnTruncate(policy TruncationPolicy) *Tracker {
	return t.configure("on_truncate", func(s *settings) {
		if policy < TruncateRewindToHead || policy > TruncateStop {
			s.fail(fmt.Errorf("unknown truncation policy %d", int(policy)))
			return
		}
		s.truncation = policy
	})
}

// WithFS replaces the file system used to stat and open the target
func (t *Tracker) WithFS(fsys FS) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	if State(t.state.Load()) == StateNew && fsys != nil {
		t.fs = fsys
	}
	return t
}

// Validate returns the first configuration error, if any
func (t *Tracker) Validate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.err != nil {
		return fmt.Errorf("invalid tracker configuration for %s: %w", t.path, t.cfg.err)
	}
	return nil
}

// Stop asks the session to end. It is safe to call from any goroutine, more
// than once, and from inside a LineHandler. A pending poll sleep is cut short;
// a read already in progress finishes first.
func (t *Tracker) Stop() {
	t.running.Store(false)
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

// ID returns the unique identifier of the Tracker
func (t *Tracker) ID() string {
	return t.id
}

// Path returns the watched path
func (t *Tracker) Path() string {
	return t.path
}

// Running reports whether the Tracker has neither been stopped nor finished
func (t *Tracker) Running() bool {
	return t.running.Load()
}

// LineCount returns the number of lines delivered so far, which is also the
// index the next line will get
func (t *Tracker) LineCount() int64 {
	return t.lines.Load()
}

// State returns the current lifecycle state
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// Done is closed when the session has reached StateStopped
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Err returns the fault that ended the session, or nil. It is only
// meaningful after Done is closed.
func (t *Tracker) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Progress returns a snapshot of the reading progress
func (t *Tracker) Progress() domain.TrackerProgress {
	t.statsMu.RLock()
	stats := t.stats
	t.statsMu.RUnlock()

	return domain.TrackerProgress{
		Timestamp:     time.Now(),
		TrackerID:     t.id,
		FilePath:      t.path,
		FileName:      filepath.Base(t.path),
		State:         t.State().String(),
		FileSizeBytes: stats.size,
		OffsetBytes:   stats.offset,
		LinesRead:     t.lines.Load(),
		LastModTime:   stats.modTime,
		Truncations:   t.truncations.Load(),
	}
}

func (t *Tracker) publishStats() {
	t.statsMu.Lock()
	t.stats = sessionStats{
		size:    t.lastLen,
		offset:  t.cursor,
		modTime: t.lastMod,
	}
	t.statsMu.Unlock()
}
