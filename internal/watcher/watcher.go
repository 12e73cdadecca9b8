// Package watcher reloads zone definitions when their files change on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dj-oyu/parking-fusion/internal/events"
	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/internal/metrics"
)

// DefaultDebounce coalesces the burst of events one save produces
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a directory of zone files
type Watcher struct {
	dir      string
	resolve  func(path string) (string, bool)
	onChange func(cameraID string)
	debounce time.Duration
	log      *logger.ModuleLogger
}

// New creates a watcher over dir. resolve maps a changed path to a camera
// id and rejects paths that are not zone files.
func New(dir string, resolve func(path string) (string, bool), onChange func(cameraID string)) *Watcher {
	return &Watcher{
		dir:      dir,
		resolve:  resolve,
		onChange: onChange,
		debounce: DefaultDebounce,
		log:      logger.For("Watcher"),
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch blocks until ctx is cancelled or the watcher fails.
// The directory is watched rather than the files so that editors replacing
// a file, and atomic renames, are both picked up.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("Watching %s for zone changes", w.dir)

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cam, ok := w.resolve(filepath.Clean(event.Name))
			if !ok {
				continue
			}

			mu.Lock()
			if t, exists := timers[cam]; exists {
				t.Stop()
			}
			timers[cam] = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.log.Info("Zone file changed: %s", cam)
				w.onChange(cam)
			})
			mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error: %v", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ZoneLoader reloads one camera's zones from storage
type ZoneLoader interface {
	Load(ctx context.Context, cameraID string) error
}

// HistoryClearer drops a camera's debounce history
type HistoryClearer interface {
	ClearCamera(cameraID string)
}

// Reloader applies a zone file change: the zones are reloaded and the
// camera's debounce history, which refers to the old geometry, is dropped.
type Reloader struct {
	Zones   ZoneLoader
	History HistoryClearer // Optional
	Events  events.Sink      // Optional
	Metrics *metrics.Metrics // Optional
	log     *logger.ModuleLogger
}

// NewReloader creates a Reloader
func NewReloader(zones ZoneLoader, history HistoryClearer, sink events.Sink) *Reloader {
	return &Reloader{Zones: zones, History: history, Events: sink, log: logger.For("Watcher")}
}

// Reload reloads cameraID. A zone file that fails to parse keeps the
// previous zones in place.
func (r *Reloader) Reload(ctx context.Context, cameraID string) error {
	if err := r.Zones.Load(ctx, cameraID); err != nil {
		r.log.Error("Reload zones for %s: %v", cameraID, err)
		if r.Metrics != nil {
			r.Metrics.ZoneReloadErrors.Add(1)
		}
		return err
	}
	if r.Metrics != nil {
		r.Metrics.ZoneReloads.Add(1)
	}
	if r.History != nil {
		r.History.ClearCamera(cameraID)
	}
	events.Emit(r.Events, events.Event{
		Kind:    events.KindZonesReloaded,
		Camera:  cameraID,
		Message: "zones reloaded, debounce history cleared",
	})
	return nil
}
