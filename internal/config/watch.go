package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/SteelMorgan/logtrack/internal/tracker"
	"gopkg.in/yaml.v3"
)

// Watch describes one tracked file
type Watch struct {
	Path       string        `yaml:"path"`
	Charset    string        `yaml:"charset"`
	Delay      time.Duration `yaml:"delay"`
	FromStart  bool          `yaml:"from_start"`
	OffsetEnd  *int64        `yaml:"initial_offset_from_end"` // Overrides from_start when set
	OnAbsence  string        `yaml:"on_absence"`
	WaitLimit  int           `yaml:"wait_limit"` // Re-checks for on_absence: wait_n_times
	OnTruncate string        `yaml:"on_truncate"`
}

// watchFile is the layout of WATCH_CONFIG
type watchFile struct {
	Defaults *Watch  `yaml:"defaults"`
	Watches  []Watch `yaml:"watches"`
}

// LoadWatches loads watch definitions from a YAML file. Empty fields are
// taken from the file's defaults section, then from defaults.
func LoadWatches(path string, defaults Watch) ([]Watch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watch config: %w", err)
	}

	var wf watchFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse watch config: %w", err)
	}

	if wf.Defaults != nil {
		defaults = wf.Defaults.merge(defaults)
	}

	watches := make([]Watch, 0, len(wf.Watches))
	for _, w := range wf.Watches {
		watches = append(watches, w.merge(defaults))
	}
	return watches, nil
}

// merge fills empty fields of w from defaults
func (w Watch) merge(defaults Watch) Watch {
	if w.Charset == "" {
		w.Charset = defaults.Charset
	}
	if w.Delay == 0 {
		w.Delay = defaults.Delay
	}
	if !w.FromStart && w.OffsetEnd == nil {
		w.FromStart = defaults.FromStart
		w.OffsetEnd = defaults.OffsetEnd
	}
	if w.OnAbsence == "" {
		w.OnAbsence = defaults.OnAbsence
		if w.WaitLimit == 0 {
			w.WaitLimit = defaults.WaitLimit
		}
	}
	if w.OnTruncate == "" {
		w.OnTruncate = defaults.OnTruncate
	}
	return w
}

// Validate checks a single watch definition
func (w Watch) Validate() error {
	if w.Path == "" {
		return fmt.Errorf("path is required")
	}
	if w.Delay < 0 {
		return fmt.Errorf("%s: delay must not be negative", w.Path)
	}
	if w.OffsetEnd != nil && *w.OffsetEnd < 0 {
		return fmt.Errorf("%s: initial_offset_from_end must not be negative", w.Path)
	}
	if w.WaitLimit < 0 {
		return fmt.Errorf("%s: wait_limit must not be negative", w.Path)
	}
	if _, err := tracker.ParseAbsencePolicy(w.OnAbsence); err != nil {
		return fmt.Errorf("%s: %w", w.Path, err)
	}
	if _, err := tracker.ParseTruncationPolicy(w.OnTruncate); err != nil {
		return fmt.Errorf("%s: %w", w.Path, err)
	}
	return nil
}

// Tracker builds a configured tracker for the watch
func (w Watch) Tracker(handler tracker.LineHandler) (*tracker.Tracker, error) {
	absence, err := tracker.ParseAbsencePolicy(w.OnAbsence)
	if err != nil {
		return nil, err
	}
	truncation, err := tracker.ParseTruncationPolicy(w.OnTruncate)
	if err != nil {
		return nil, err
	}

	var offset int64
	switch {
	case w.OffsetEnd != nil:
		offset = *w.OffsetEnd
	case w.FromStart:
		offset = math.MaxInt64
	}

	t := tracker.New(w.Path, handler).
		Charset(w.Charset).
		InitialOffsetBytesFromEnd(offset).
		OnAbsence(absence, w.WaitLimit).
		OnTruncate(truncation)
	if w.Delay > 0 {
		t.Delay(w.Delay)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
