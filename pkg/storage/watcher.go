package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	errs "sharecrawl/pkg/errors"
)

// in-progress suffixes used by browser download managers
var partialSuffixes = []string{".tmp", ".crdownload", ".part", ".download"}

// Watcher detects the completion of a browser-triggered download by
// observing a directory for a new file whose size has stabilized.
// Snapshot the directory before triggering the download, then call Wait.
type Watcher struct {
	manager *Manager
	relDir  string
	before  map[string]struct{}
	poll    time.Duration
}

// NewWatcher snapshots the current contents of a tree-relative directory
func (m *Manager) NewWatcher(relDir string, poll time.Duration) (*Watcher, error) {
	entries, err := os.ReadDir(m.FullPath(relDir))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot directory %q: %w", relDir, err)
	}

	before := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		before[e.Name()] = struct{}{}
	}

	return &Watcher{
		manager: m,
		relDir:  relDir,
		before:  before,
		poll:    poll,
	}, nil
}

// Wait polls the directory until a new, complete file appears, the
// timeout elapses, or the context is cancelled. A file counts as
// complete once its size is non-zero and unchanged between two
// consecutive polls. Returns the tree-relative path of the new file.
func (w *Watcher) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	lastSizes := make(map[string]int64)

	for {
		name, done, err := w.scan(lastSizes)
		if err != nil {
			return "", err
		}
		if done {
			return path.Join(w.relDir, name), nil
		}

		if time.Now().After(deadline) {
			return "", errs.New(errs.ErrorTypeTimeout,
				fmt.Sprintf("no completed download appeared in %q within %s", w.relDir, timeout))
		}

		timer := time.NewTimer(w.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// scan looks for a new file with a stabilized size. lastSizes carries the
// sizes observed on the previous poll.
func (w *Watcher) scan(lastSizes map[string]int64) (string, bool, error) {
	entries, err := os.ReadDir(w.manager.FullPath(w.relDir))
	if err != nil {
		return "", false, fmt.Errorf("failed to read directory %q: %w", w.relDir, err)
	}

	for _, e := range entries {
		name := e.Name()
		if _, existed := w.before[name]; existed || e.IsDir() || isPartial(name) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		prev, seen := lastSizes[name]
		lastSizes[name] = info.Size()
		if seen && info.Size() > 0 && info.Size() == prev {
			return name, true, nil
		}
	}

	return "", false, nil
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
