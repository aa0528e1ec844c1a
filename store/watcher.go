package store

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWatchInterval is how often the watcher re-reads watched keys.
const DefaultWatchInterval = time.Second

// Watcher observes a set of storage keys for external mutation and
// notifies subscribers when a value changes. It stands in for the
// browser storage event: another process (or another component of this
// one) rewriting a token or the cached profile must cause in-memory
// state to re-sync. Subscribers are expected to re-verify identity
// before trusting any cache the change touches.
type Watcher struct {
	backend  Backend
	keys     []string
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	last    map[string]string
	subs    []func(key, value string)
	running bool
	done    chan struct{}
}

// NewWatcher creates a watcher over the given keys. A nil or empty keys
// slice watches WatchedKeys.
func NewWatcher(backend Backend, keys []string, interval time.Duration, log *zap.Logger) *Watcher {
	if len(keys) == 0 {
		keys = WatchedKeys
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		backend:  backend,
		keys:     keys,
		interval: interval,
		log:      log,
		last:     make(map[string]string),
	}
}

// Subscribe registers a callback invoked with the key and its new value
// whenever a watched key changes. Callbacks run on the watcher
// goroutine and must not block.
func (w *Watcher) Subscribe(fn func(key, value string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

// Start snapshots the current values and begins polling. Calling Start
// on a running watcher has no effect.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.done = make(chan struct{})

	for _, key := range w.keys {
		w.last[key] = w.read(key)
	}
	go w.loop(w.done)
}

// Stop halts polling. Safe to call when not running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.done)
}

// Sync performs one comparison pass immediately, outside the poll
// schedule. Used on focus/visibility style events.
func (w *Watcher) Sync() {
	w.mu.Lock()
	var changed [][2]string
	for _, key := range w.keys {
		value := w.read(key)
		if w.last[key] != value {
			w.last[key] = value
			changed = append(changed, [2]string{key, value})
		}
	}
	subs := make([]func(string, string), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	for _, kv := range changed {
		w.log.Debug("storage key changed", zap.String("key", kv[0]))
		for _, fn := range subs {
			fn(kv[0], kv[1])
		}
	}
}

func (w *Watcher) loop(done chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.Sync()
		}
	}
}

// read normalizes missing keys and backend failures to "".
func (w *Watcher) read(key string) string {
	value, err := w.backend.Get(key)
	if err != nil {
		return ""
	}
	return value
}
