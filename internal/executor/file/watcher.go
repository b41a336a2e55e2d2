package file

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher applies organize rules to files as they arrive in watched folders.
type Watcher struct {
	executor *Executor
	folders  []string
	// settle is how long a new file must sit before a rule touches it, so
	// an in-progress download is not moved mid-write.
	settle time.Duration
	logger zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher over the given folders. The folders must lie
// within the executor's roots; rules come from the executor.
func NewWatcher(executor *Executor, folders []string, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, folder := range folders {
		if err := fsw.Add(folder); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return &Watcher{
		executor: executor,
		folders:  folders,
		settle:   2 * time.Second,
		logger:   logger.With().Str("component", "file-watcher").Logger(),
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Run processes events until the context ends or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.handleArrival(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

// handleArrival waits for the file to settle, then applies the rules.
func (w *Watcher) handleArrival(ctx context.Context, path string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.settle):
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	moved, err := w.executor.ApplyRules(path, w.executor.Rules())
	if err != nil {
		w.logger.Warn().Err(err).Str("file", path).Msg("rule application failed")
		return
	}
	if moved > 0 {
		w.logger.Info().Str("file", path).Msg("new arrival organized")
	}
}

// Close stops the watcher. Run exits once the event channel drains.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Done is closed when Run has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
