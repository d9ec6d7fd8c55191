package tracker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const testDelay = 10 * time.Millisecond

// collector records every delivered line
type collector struct {
	mu      sync.Mutex
	lines   []string
	indexes []int64
}

func (c *collector) Handle(line string, index int64, _ *Tracker) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
	c.indexes = append(c.indexes, index)
	return nil
}

func (c *collector) snapshot() ([]string, []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...), append([]int64(nil), c.indexes...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// countingFS wraps the OS file system and counts calls
type countingFS struct {
	mu      sync.Mutex
	stats   int
	opens   int
	closes  int
	files   []*countingFile
	readErr error

	// beforeOpen runs before the n-th Open (1-based) touches the file
	beforeOpen func(n int, name string)
}

func (c *countingFS) Stat(name string) (os.FileInfo, error) {
	c.mu.Lock()
	c.stats++
	c.mu.Unlock()
	return os.Stat(name)
}

func (c *countingFS) Open(name string) (File, error) {
	c.mu.Lock()
	hook, n := c.beforeOpen, c.opens+1
	c.mu.Unlock()
	if hook != nil {
		hook(n, name)
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	cf := &countingFile{File: f, fs: c}
	c.files = append(c.files, cf)
	return cf, nil
}

func (c *countingFS) counts() (stats, opens, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, c.opens, c.closes
}

type countingFile struct {
	File
	fs     *countingFS
	closed int
}

func (f *countingFile) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	err := f.fs.readErr
	f.fs.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.File.ReadAt(p, off)
}

func (f *countingFile) Close() error {
	f.fs.mu.Lock()
	f.closed++
	f.fs.closes++
	f.fs.mu.Unlock()
	return f.File.Close()
}

// start runs tr in the background and stops it when the test ends
func start(t *testing.T, tr *Tracker) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Run(context.Background())
	}()
	t.Cleanup(func() {
		tr.Stop()
		select {
		case <-tr.Done():
		case <-time.After(5 * time.Second):
			t.Error("tracker did not stop")
		}
	})
	return errCh
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, tr *Tracker, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		<-tr.Done()
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not finish")
		return nil
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("failed to append to %s: %v", path, err)
	}
}

func tempLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, content)
	return path
}

func equalLines(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func checkIndexes(t *testing.T, indexes []int64) {
	t.Helper()
	for i, idx := range indexes {
		if idx != int64(i) {
			t.Errorf("expected index %d at position %d, got %d", i, i, idx)
		}
	}
}
