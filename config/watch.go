/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/nabbar/edgeproxy/logger"
	"github.com/nabbar/edgeproxy/reconfig"
)

// Watcher re-runs Load whenever the config file changes on disk and delivers the resulting
// delta burst on Deltas. Errors from a reload that fails to parse are logged and skipped: the
// registry keeps running on its last-known-good configuration rather than being torn down.
type Watcher struct {
	Deltas chan []reconfig.Delta

	path    string
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewWatcher starts watching the directory containing path (fsnotify watches directories, not
// files directly, so editors that replace-by-rename on save still fire an event).
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		Deltas:  make(chan []reconfig.Delta, 1),
		path:    path,
		watcher: fsw,
		stop:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			deltas, err := Load(w.path)
			if err != nil {
				logger.Event("config_reload_failed").WithField("error", err.Error()).Warn("config reload failed")
				continue
			}
			w.Deltas <- deltas
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Event("config_watch_error").WithField("error", err.Error()).Warn("config watch error")
		}
	}
}

// Close stops the watcher goroutine and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
