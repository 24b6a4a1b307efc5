package directory

import (
	"sync"
	"time"
)

// Debouncer runs the last submitted function once no new submission arrived
// for the quiet period.
type Debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := seq == d.seq
		d.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Stop drops any pending function.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
