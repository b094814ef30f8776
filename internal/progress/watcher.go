// Package progress watches the progress markers of running loops so a new
// iteration is reported as soon as the loop writes it, rather than on the
// next poll.
package progress

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/task"
)

var progressLog = logging.ForComponent(logging.CompProgress)

// Watcher watches each active project's loop/logs directory and calls
// onChange with the project path when its .progress marker changes.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(projectPath string)
	interval time.Duration

	closeOnce sync.Once

	// mu guards dirs and limiters.
	mu       sync.Mutex
	dirs     map[string]string // log dir -> project path
	limiters map[string]*rate.Sometimes
}

// New returns a watcher that calls onChange at most once per interval for
// each project.
func New(onChange func(projectPath string), interval time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		fs:       fw,
		onChange: onChange,
		interval: interval,
		dirs:     make(map[string]string),
		limiters: make(map[string]*rate.Sometimes),
	}, nil
}

// Sync makes the watched set match projectPaths. Projects whose log
// directory does not exist yet are picked up by a later Sync.
func (w *Watcher) Sync(projectPaths []string) {
	want := make(map[string]string, len(projectPaths))
	for _, p := range projectPaths {
		want[task.LogDir(p)] = p
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.dirs {
		if _, ok := want[dir]; ok {
			continue
		}
		_ = w.fs.Remove(dir)
		delete(w.dirs, dir)
		progressLog.Debug("progress_unwatch", "dir", dir)
	}
	for dir, project := range want {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			progressLog.Warn("progress_watch_failed", "dir", dir, "error", err)
			continue
		}
		w.dirs[dir] = project
		progressLog.Debug("progress_watch", "dir", dir)
	}
}

// Watched returns the number of watched directories.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Run dispatches events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if filepath.Base(ev.Name) != ".progress" {
				continue
			}
			w.trigger(filepath.Dir(ev.Name))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			progressLog.Warn("progress_watch_error", "error", err)
		}
	}
}

func (w *Watcher) trigger(dir string) {
	w.mu.Lock()
	project, ok := w.dirs[dir]
	if !ok {
		w.mu.Unlock()
		return
	}
	limiter := w.limiters[project]
	if limiter == nil {
		limiter = &rate.Sometimes{Interval: w.interval}
		w.limiters[project] = limiter
	}
	w.mu.Unlock()

	limiter.Do(func() { w.onChange(project) })
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fs.Close() })
	return err
}
