// Package sync holds the small concurrency primitives shared by the webhook
// layer: per-key debouncing for push storms and per-key locking so one PR is
// never reviewed twice at once.
package sync

import (
	"sync"
	"time"
)

// Debouncer delays execution per key. A second Add for the same key before
// the delay elapses resets the timer, so a burst of pushes yields one run.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	delay   time.Duration
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		pending: make(map[string]*time.Timer),
		delay:   delay,
	}
}

// Add schedules fn to run after the delay. An earlier pending fn for the
// same key is cancelled.
func (d *Debouncer) Add(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[key]; ok {
		t.Stop()
	}
	d.pending[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops a pending run for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[key]; ok {
		t.Stop()
		delete(d.pending, key)
	}
}

// CancelAll drops every pending run. Used at shutdown so no timer fires
// into torn-down machinery.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, t := range d.pending {
		t.Stop()
		delete(d.pending, key)
	}
}

// Pending reports whether a run is scheduled for key.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}
