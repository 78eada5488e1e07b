package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/attestra/attestra/internal/registry"
)

// fsEvent is one debounced filesystem notification.
type fsEvent struct {
	path string
	kind registry.ChangeKind
}

// Watcher wraps fsnotify with per-path debouncing so the monitor sees
// "write finished" semantics instead of firing on every partial write.
// Watch roots can be added and removed at runtime.
type Watcher struct {
	fw       *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
	out     chan fsEvent
	done    chan struct{}
}

type pendingEvent struct {
	kind  registry.ChangeKind
	timer *time.Timer
}

// NewWatcher starts the underlying fsnotify watcher and its dispatch
// loop.
func NewWatcher(debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w := &Watcher{
		fw:       fw,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]*pendingEvent),
		out:      make(chan fsEvent, 256),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Events is the debounced event stream.
func (w *Watcher) Events() <-chan fsEvent { return w.out }

// Add registers a path (file's parent directory or the directory
// itself) with the OS watcher.
func (w *Watcher) Add(path string) error {
	if err := w.fw.Add(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	return nil
}

// Remove unregisters a watch root.
func (w *Watcher) Remove(path string) error {
	if err := w.fw.Remove(path); err != nil {
		return fmt.Errorf("unwatching %s: %w", path, err)
	}
	return nil
}

// Close stops the watcher. Pending debounce timers are dropped.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.observe(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fs watcher error", "error", err)
		}
	}
}

// observe coalesces raw notifications per path. Each new notification
// resets the path's quiet-period timer; the event fires only once
// writes have settled. Deletions and renames take precedence over
// writes observed in the same window.
func (w *Watcher) observe(ev fsnotify.Event) {
	kind, ok := mapOp(ev.Op)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	p, exists := w.pending[ev.Name]
	if exists {
		p.timer.Stop()
		if precedence(kind) >= precedence(p.kind) {
			p.kind = kind
		}
	} else {
		p = &pendingEvent{kind: kind}
		w.pending[ev.Name] = p
	}

	path := ev.Name
	p.timer = time.AfterFunc(w.debounce, func() { w.flush(path) })
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	select {
	case w.out <- fsEvent{path: path, kind: p.kind}:
	case <-w.done:
	default:
		w.logger.Warn("event buffer full, dropping notification", "path", path)
	}
}

func mapOp(op fsnotify.Op) (registry.ChangeKind, bool) {
	switch {
	case op.Has(fsnotify.Remove):
		return registry.ChangeDeleted, true
	case op.Has(fsnotify.Rename):
		return registry.ChangeRenamed, true
	case op.Has(fsnotify.Create):
		return registry.ChangeCreated, true
	case op.Has(fsnotify.Write):
		return registry.ChangeModified, true
	case op.Has(fsnotify.Chmod):
		return registry.ChangePermission, true
	}
	return "", false
}

// precedence orders event kinds within one debounce window: a deletion
// observed after a write is still a deletion.
func precedence(kind registry.ChangeKind) int {
	switch kind {
	case registry.ChangeDeleted:
		return 4
	case registry.ChangeRenamed:
		return 3
	case registry.ChangeCreated:
		return 2
	case registry.ChangeModified:
		return 1
	default:
		return 0
	}
}
