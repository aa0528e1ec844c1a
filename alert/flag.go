package alert

import (
	"sync"
)

// Flag is a process-wide sticky signal that the session tokens have issues.
// It is set by the request layer on classified auth failures and cleared
// only by an explicit session teardown or a successful re-login; a later
// successful request does NOT clear it.
type Flag struct {
	mu     sync.RWMutex
	raised bool
	subs   []func(raised bool)
}

// NewFlag creates a new, unraised flag.
func NewFlag() *Flag {
	return &Flag{}
}

// Set raises the flag. Subscribers are notified only on the
// unraised -> raised transition.
func (f *Flag) Set() {
	f.mu.Lock()
	if f.raised {
		f.mu.Unlock()
		return
	}
	f.raised = true
	subs := make([]func(bool), len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, fn := range subs {
		fn(true)
	}
}

// Clear lowers the flag. Subscribers are notified only on the
// raised -> unraised transition.
func (f *Flag) Clear() {
	f.mu.Lock()
	if !f.raised {
		f.mu.Unlock()
		return
	}
	f.raised = false
	subs := make([]func(bool), len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, fn := range subs {
		fn(false)
	}
}

// Raised reports whether the flag is currently set.
func (f *Flag) Raised() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.raised
}

// Subscribe registers a callback invoked on every transition.
// Callbacks run synchronously on the goroutine that flipped the flag,
// so they must not block.
func (f *Flag) Subscribe(fn func(raised bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
}
