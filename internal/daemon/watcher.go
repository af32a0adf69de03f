package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce window for filesystem bursts: one agent turn can touch a
// transcript dozens of times within a second.
const invalidateDebounce = 2 * time.Second

// sourceWatcher invalidates the aggregation cache when transcript files
// change on disk, so a fresh request after new activity never serves a full
// TTL of stale numbers.
type sourceWatcher struct {
	svc     *Service
	watcher *fsnotify.Watcher
}

func newSourceWatcher(svc *Service) (*sourceWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &sourceWatcher{svc: svc, watcher: fsw}
	for _, src := range svc.sources {
		w.addTree(src.Root)
	}
	return w, nil
}

// addTree registers a directory and every subdirectory. fsnotify watches are
// not recursive; new subdirectories get added as their create events arrive.
func (w *sourceWatcher) addTree(root string) {
	if _, err := os.Stat(root); err != nil {
		return
	}
	_ = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if addErr := w.watcher.Add(path); addErr != nil && w.svc.shouldLog("watch_add_error", 30*time.Second) {
				w.svc.warnf("watch_add_error", "path=%s error=%v", path, addErr)
			}
		}
		return nil
	})
}

func (w *sourceWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	w.svc.infof("watcher_started", "dirs=%d", len(w.watcher.WatchList()))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
				}
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(invalidateDebounce)
				timerC = timer.C
			} else {
				timer.Reset(invalidateDebounce)
			}
		case <-timerC:
			w.svc.cache.InvalidateAll()
			w.svc.infof("cache_invalidated", "reason=fs_change")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.svc.shouldLog("watch_error", 30*time.Second) {
				w.svc.warnf("watch_error", "error=%v", err)
			}
		}
	}
}

func (w *sourceWatcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasSuffix(event.Name, ".jsonl")
}
