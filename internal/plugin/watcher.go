package plugin

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce coalesces filesystem event bursts into one rescan.
const watchDebounce = 500 * time.Millisecond

// Watcher observes the plugin roots and fires a callback when plugin
// directories appear, change or disappear. Events are debounced so an
// unpacking plugin triggers a single rescan.
type Watcher struct {
	fw       *fsnotify.Watcher
	onChange func()
	log      *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher on the given roots. Roots that do not
// exist are skipped; the callback runs on the watcher goroutine.
func NewWatcher(roots []string, onChange func(), log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fw:       fw,
		onChange: onChange,
		log:      log,
		done:     make(chan struct{}),
	}

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		if err := fw.Add(root); err != nil {
			w.log.Warn("cannot watch plugin root",
				zap.String("root", root),
				zap.Error(err),
			)
			continue
		}
		w.log.Debug("watching plugin root", zap.String("root", root))
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// loop drains filesystem events, debouncing bursts into one callback.
func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("plugin root changed",
				zap.String("path", ev.Name),
				zap.String("op", ev.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
	})
	return err
}
