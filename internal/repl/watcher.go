package repl

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSettle = 250 * time.Millisecond

// DeviceEvent reports a micro:bit appearing on or leaving a port.
type DeviceEvent struct {
	Port     string
	Attached bool
}

// Watcher re-runs discovery whenever the device directory changes.
// It only reports; opening a port stays the owner's decision.
type Watcher struct {
	fs     *fsnotify.Watcher
	enum   Enumerator
	notify func(DeviceEvent)
	settle time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	port string
}

// NewWatcher watches dir (usually /dev). The currently attached device, if
// any, becomes the baseline and is not reported.
func NewWatcher(dir string, enum Enumerator, notify func(DeviceEvent), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		fs:     fw,
		enum:   enum,
		notify: notify,
		settle: defaultSettle,
		logger: logger,
	}
	if port, err := Discover(enum); err == nil {
		w.port = port
	}
	return w, nil
}

// Port returns the last discovered micro:bit port, or "".
func (w *Watcher) Port() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port
}

// Run processes filesystem events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
				timer.Reset(w.settle)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("device watcher error", "error", err)
		case <-timer.C:
			w.check()
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) check() {
	port, err := Discover(w.enum)
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		w.logger.Warn("device discovery failed", "error", err)
		return
	}

	w.mu.Lock()
	prev := w.port
	w.port = port
	w.mu.Unlock()

	if prev == port || w.notify == nil {
		return
	}
	if prev != "" {
		w.notify(DeviceEvent{Port: prev, Attached: false})
	}
	if port != "" {
		w.notify(DeviceEvent{Port: port, Attached: true})
	}
}
