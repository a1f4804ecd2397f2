package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns filesystem events in the schedule directory into per-course
// change notifications. A change to dates/<courseID>.json fires onChange with
// that course ID; a change to enrollments.json fires onChange with "".
type Watcher struct {
	fw       *fsnotify.Watcher
	onChange func(courseID string)
	log      *slog.Logger
}

// NewWatcher creates a Watcher over the given schedule directory. onChange is
// invoked from the watcher goroutine and must not block for long: route into
// a debounced trigger, not directly into a reconciliation.
func NewWatcher(dir string, onChange func(courseID string), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %q: %w", dir, err)
	}
	// The dates subdirectory may not exist yet on a fresh install.
	if err := fw.Add(filepath.Join(dir, datesDir)); err != nil {
		logger.Debug("dates directory not watchable yet", "error", err)
	}

	return &Watcher{fw: fw, onChange: onChange, log: logger}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("schedule watcher error", "error", err)
		}
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	base := filepath.Base(ev.Name)
	switch {
	case base == enrollmentsFile:
		w.log.Debug("enrollments file changed")
		w.onChange("")
	case strings.HasSuffix(base, ".json") && filepath.Base(filepath.Dir(ev.Name)) == datesDir:
		courseID := strings.TrimSuffix(base, ".json")
		w.log.Debug("dates file changed", "course_id", courseID)
		w.onChange(courseID)
	}
}
