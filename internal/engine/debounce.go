package engine

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a debounced recomputation runs
const DefaultDebounce = 200 * time.Millisecond

// Debouncer coalesces bursts of Notify calls into one call of fn that runs
// delay after the last Notify. Runs never overlap; a Notify during a run
// schedules one more.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	running bool
	stopped bool
}

// NewDebouncer creates a Debouncer; a non-positive delay uses DefaultDebounce
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Notify (re)starts the quiet period
func (d *Debouncer) Notify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.onTimer)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *Debouncer) onTimer() {
	d.mu.Lock()
	if d.stopped || !d.pending {
		d.mu.Unlock()
		return
	}
	if d.running {
		d.timer.Reset(d.delay)
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.running = true
	d.mu.Unlock()

	d.fn()

	d.mu.Lock()
	d.running = false
	if d.pending && !d.stopped {
		d.timer.Reset(d.delay)
	}
	d.mu.Unlock()
}

// Flush runs a pending call immediately
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped || !d.pending || d.running {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
	d.running = true
	d.mu.Unlock()

	d.fn()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop cancels any pending call; later Notify calls are ignored
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}
