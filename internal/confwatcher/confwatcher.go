// Package confwatcher contains a configuration file watcher.
package confwatcher

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bluenviron/reframer/internal/logger"
)

// time to wait after the last event before reading the file again.
const settleTime = 100 * time.Millisecond

// ConfWatcher signals when the content of a configuration file changes.
// Events that leave the content untouched are ignored.
type ConfWatcher struct {
	FilePath string
	Parent   logger.Writer

	inner        *fsnotify.Watcher
	absolutePath string
	content      []byte

	// in
	terminate chan struct{}

	// out
	signal chan struct{}
	done   chan struct{}
}

// Initialize initializes a ConfWatcher.
func (w *ConfWatcher) Initialize() error {
	var err error
	w.content, err = os.ReadFile(w.FilePath)
	if err != nil {
		return err
	}

	w.inner, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// the parent directory is watched in order to survive
	// editors that replace the file and symlink swaps.
	w.absolutePath, _ = filepath.Abs(w.FilePath)

	err = w.inner.Add(filepath.Dir(w.absolutePath))
	if err != nil {
		w.inner.Close() //nolint:errcheck
		return err
	}

	if target, err2 := filepath.EvalSymlinks(w.absolutePath); err2 == nil && target != w.absolutePath {
		err = w.inner.Add(filepath.Dir(target))
		if err != nil {
			w.inner.Close() //nolint:errcheck
			return err
		}
	}

	w.terminate = make(chan struct{})
	w.signal = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes a ConfWatcher.
func (w *ConfWatcher) Close() {
	close(w.terminate)
	<-w.done
}

// Log implements logger.Writer.
func (w *ConfWatcher) Log(level logger.Level, format string, args ...interface{}) {
	if w.Parent != nil {
		w.Parent.Log(level, "[conf watcher] "+format, args...)
	}
}

func (w *ConfWatcher) run() {
	defer close(w.done)

	var settle <-chan time.Time

outer:
	for {
		select {
		case <-w.inner.Events:
			settle = time.After(settleTime)

		case <-settle:
			settle = nil

			if !w.contentChanged() {
				continue
			}

			w.Log(logger.Debug, "%s changed", w.FilePath)

			select {
			case w.signal <- struct{}{}:
			case <-w.terminate:
				break outer
			}

		case err := <-w.inner.Errors:
			w.Log(logger.Error, "%v", err)
			break outer

		case <-w.terminate:
			break outer
		}
	}

	close(w.signal)
	w.inner.Close() //nolint:errcheck
}

func (w *ConfWatcher) contentChanged() bool {
	byts, err := os.ReadFile(w.absolutePath)
	if err != nil {
		// file was removed: wait until it is created again
		return false
	}

	if bytes.Equal(byts, w.content) {
		return false
	}

	w.content = byts
	return true
}

// Watch returns a channel that is written after the configuration file has changed.
func (w *ConfWatcher) Watch() chan struct{} {
	return w.signal
}
