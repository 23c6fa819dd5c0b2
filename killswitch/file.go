package killswitch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// File is stopped while a flag file exists. The parent directory is watched
// so creating or removing the file takes effect without polling.
type File struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	stopped atomic.Bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFile starts watching path. The parent directory must exist.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	if path == "" {
		return nil, errors.New("killswitch: empty flag path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	f := &File{
		path:    abs,
		watcher: w,
		logger:  logger.With("component", "killswitch"),
		done:    make(chan struct{}),
	}
	f.refresh()

	f.wg.Add(1)
	go f.run()
	return f, nil
}

func (f *File) Stopped(context.Context) (bool, error) {
	return f.stopped.Load(), nil
}

func (f *File) refresh() {
	_, err := os.Stat(f.path)
	now := err == nil
	if f.stopped.Swap(now) != now {
		f.logger.Info("sessions stopped flag changed", "stopped", now, "path", f.path)
	}
}

func (f *File) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == f.path {
				f.refresh()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("flag watcher error", "error", err)
			f.refresh()
		}
	}
}

// Close stops the watcher.
func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.watcher.Close()
		f.wg.Wait()
	})
	return err
}
