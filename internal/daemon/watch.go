package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/quartz"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/xerrors"
)

// pollInterval backs up fsnotify, which can miss events or be unavailable.
const pollInterval = 100 * time.Millisecond

// fileWatcher reports events for one path by watching its directory. A
// failed fsnotify setup degrades to polling.
type fileWatcher struct {
	path    string
	clock   quartz.Clock
	watcher *fsnotify.Watcher
}

func watchFile(clock quartz.Clock, path string) *fileWatcher {
	fw := &fileWatcher{path: filepath.Clean(path), clock: clock}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fw
	}
	if err := w.Add(filepath.Dir(fw.path)); err != nil {
		_ = w.Close()
		return fw
	}
	fw.watcher = w
	return fw
}

func (fw *fileWatcher) Close() {
	if fw.watcher != nil {
		_ = fw.watcher.Close()
	}
}

// wait blocks until done reports true. done is evaluated up front, on every
// event for the path and on every poll tick.
func (fw *fileWatcher) wait(ctx context.Context, done func() bool) error {
	if done() {
		return nil
	}

	ticker := fw.clock.NewTicker(pollInterval, "watch", "poll")
	defer ticker.Stop("watch", "poll")

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if fw.watcher != nil {
		events = fw.watcher.Events
		errs = fw.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != fw.path {
				continue
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
			continue
		case <-ticker.C:
		}
		if done() {
			return nil
		}
	}
}

// WaitRemoved blocks until path no longer exists.
func WaitRemoved(ctx context.Context, clock quartz.Clock, path string) error {
	fw := watchFile(clock, path)
	defer fw.Close()
	return fw.wait(ctx, func() bool {
		_, err := os.Stat(path)
		return errors.Is(err, fs.ErrNotExist)
	})
}

// WaitChanged calls trigger and blocks until path is replaced or modified.
// The watch is in place before trigger runs, so a fast writer is not missed.
func WaitChanged(ctx context.Context, clock quartz.Clock, path string, trigger func() error) error {
	fw := watchFile(clock, path)
	defer fw.Close()

	before, _ := os.Stat(path)
	if err := trigger(); err != nil {
		return err
	}
	err := fw.wait(ctx, func() bool {
		after, err := os.Stat(path)
		if err != nil {
			return false
		}
		if before == nil {
			return true
		}
		return !os.SameFile(before, after) ||
			!after.ModTime().Equal(before.ModTime()) ||
			after.Size() != before.Size()
	})
	if err != nil {
		return xerrors.Errorf("wait for %s to change: %w", path, err)
	}
	return nil
}
