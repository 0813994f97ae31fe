package registry

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowplane/flowplane/logger"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher feeds debounced filesystem change events into the synchronizer.
// A burst of writes inside the debounce window produces one trigger.
type Watcher struct {
	roots    []string
	debounce time.Duration
	sync     *Synchronizer
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
}

func NewWatcher(roots []string, debounce time.Duration, sync *Synchronizer) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		roots:    roots,
		debounce: debounce,
		sync:     sync,
		watcher:  fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), "_") && path != root {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) Start() {
	go w.loop()
	logger.Info("workspace watcher started", zap.Strings("roots", w.roots))
}

func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.done)
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				// new directories need their own watch
				w.addRecursive(event.Name)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("workspace watch error", zap.Error(err))
		case <-timerC:
			w.sync.Trigger()
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
