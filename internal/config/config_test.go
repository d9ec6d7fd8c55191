package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SteelMorgan/logtrack/internal/tracker"
)

func TestParsePathList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "/var/log/app.log", want: []string{"/var/log/app.log"}},
		{name: "several with spaces", in: " a.log ; b.log;;c.log ", want: []string{"a.log", "b.log", "c.log"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePathList(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("WATCH_FILES", "a.log;b.log")
	t.Setenv("WATCH_CONFIG", "")
	t.Setenv("DEFAULT_DELAY", "250ms")
	t.Setenv("DEFAULT_CHARSET", "windows-1251")
	t.Setenv("POOL_WORKERS", "4")
	t.Setenv("POOL_QUEUE_SIZE", "8")
	t.Setenv("PROGRESS_INTERVAL", "30s")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Watches) != 2 || cfg.Watches[0].Path != "a.log" || cfg.Watches[1].Path != "b.log" {
		t.Fatalf("unexpected watches: %+v", cfg.Watches)
	}
	w := cfg.Watches[0]
	if w.Delay != 250*time.Millisecond || w.Charset != "windows-1251" {
		t.Errorf("defaults not applied: %+v", w)
	}
	if w.OnAbsence != "wait_forever" || w.OnTruncate != "rewind_to_head" {
		t.Errorf("unexpected default policies: %+v", w)
	}
	if cfg.PoolWorkers != 4 || cfg.PoolQueueSize != 8 {
		t.Errorf("unexpected pool settings: %d/%d", cfg.PoolWorkers, cfg.PoolQueueSize)
	}
	if cfg.ProgressInterval != 30*time.Second || !cfg.TracingEnabled {
		t.Errorf("unexpected observability settings: %+v", cfg)
	}
}

func TestLoad_RequiresWatches(t *testing.T) {
	t.Setenv("WATCH_FILES", "")
	t.Setenv("WATCH_CONFIG", "")

	if _, err := Load(); err == nil {
		t.Error("expected error without watches")
	}
}

func TestLoadWatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watches.yaml")
	content := `
defaults:
  charset: koi8-r
  on_truncate: continue_at_end
watches:
  - path: /var/log/app.log
  - path: /var/log/other.log
    charset: utf-8
    delay: 2s
    initial_offset_from_end: 4096
    on_absence: wait_n_times
    wait_limit: 5
    on_truncate: stop
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	base := Watch{Charset: "utf-8", Delay: time.Second, OnAbsence: "stop", OnTruncate: "rewind_to_head"}
	watches, err := LoadWatches(path, base)
	if err != nil {
		t.Fatalf("LoadWatches() error = %v", err)
	}
	if len(watches) != 2 {
		t.Fatalf("expected 2 watches, got %d", len(watches))
	}

	first := watches[0]
	if first.Charset != "koi8-r" || first.OnTruncate != "continue_at_end" {
		t.Errorf("file defaults not applied: %+v", first)
	}
	if first.Delay != time.Second || first.OnAbsence != "stop" {
		t.Errorf("base defaults not applied: %+v", first)
	}

	second := watches[1]
	if second.Charset != "utf-8" || second.Delay != 2*time.Second {
		t.Errorf("explicit values overridden: %+v", second)
	}
	if second.OffsetEnd == nil || *second.OffsetEnd != 4096 {
		t.Errorf("expected initial offset 4096, got %v", second.OffsetEnd)
	}
	if second.OnAbsence != "wait_n_times" || second.WaitLimit != 5 || second.OnTruncate != "stop" {
		t.Errorf("unexpected policies: %+v", second)
	}
}

func TestLoadWatches_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadWatches(filepath.Join(dir, "missing.yaml"), Watch{}); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("watches: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWatches(bad, Watch{}); err == nil {
		t.Error("expected parse error")
	}
}

func TestWatch_Validate(t *testing.T) {
	negative := int64(-1)
	valid := Watch{Path: "a.log", OnAbsence: "stop", OnTruncate: "stop"}

	tests := []struct {
		name    string
		mutate  func(w *Watch)
		wantErr string
	}{
		{name: "valid", mutate: func(*Watch) {}},
		{name: "missing path", mutate: func(w *Watch) { w.Path = "" }, wantErr: "path is required"},
		{name: "negative delay", mutate: func(w *Watch) { w.Delay = -time.Second }, wantErr: "delay"},
		{name: "negative offset", mutate: func(w *Watch) { w.OffsetEnd = &negative }, wantErr: "initial_offset_from_end"},
		{name: "negative wait limit", mutate: func(w *Watch) { w.WaitLimit = -1 }, wantErr: "wait_limit"},
		{name: "unknown absence policy", mutate: func(w *Watch) { w.OnAbsence = "retry" }, wantErr: "absence"},
		{name: "unknown truncation policy", mutate: func(w *Watch) { w.OnTruncate = "ignore" }, wantErr: "truncation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid
			tt.mutate(&w)
			err := w.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_ValidateDuplicatePaths(t *testing.T) {
	w := Watch{Path: "a.log", OnAbsence: "stop", OnTruncate: "stop"}
	cfg := &Config{TracingProtocol: "grpc", Watches: []Watch{w, w}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "configured twice") {
		t.Errorf("expected duplicate path error, got %v", err)
	}
}

func TestWatch_Tracker(t *testing.T) {
	offset := int64(10)
	tests := []struct {
		name string
		w    Watch
	}{
		{name: "from start", w: Watch{Path: "a.log", FromStart: true, OnAbsence: "stop", OnTruncate: "stop"}},
		{name: "explicit offset", w: Watch{Path: "a.log", OffsetEnd: &offset, OnAbsence: "wait-forever", OnTruncate: "rewind to offset"}},
		{name: "wait n times", w: Watch{Path: "a.log", Delay: time.Second, OnAbsence: "wait_n_times", WaitLimit: 3, OnTruncate: "continue_at_end"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := tt.w.Tracker(nil)
			if err != nil {
				t.Fatalf("Tracker() error = %v", err)
			}
			if tr.Path() != "a.log" || tr.State() != tracker.StateNew {
				t.Errorf("unexpected tracker: path=%s state=%s", tr.Path(), tr.State())
			}
		})
	}

	if _, err := (Watch{Path: "a.log", Charset: "klingon", OnAbsence: "stop", OnTruncate: "stop"}).Tracker(nil); err == nil {
		t.Error("expected error for unknown charset")
	}
}
