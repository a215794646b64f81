package engine

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcher calls onChange once per burst of writes to a single file. The
// directory is watched so that editors replacing the file by rename are
// still seen.
type watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func()
}

func newWatcher(path string, debounce time.Duration, onChange func()) (*watcher, error) {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &watcher{fsw: fsw, path: abs, debounce: debounce, onChange: onChange}, nil
}

// run blocks until ctx is cancelled.
func (w *watcher) run(ctx context.Context) {
	defer w.fsw.Close()

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			log.Printf("[engine] %s changed, reloading", w.path)
			w.onChange()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[engine] watcher error: %v", err)
		}
	}
}
