// Package debounce откладывает задачу до паузы во входящих событиях.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow — окно автосабмита формы.
const DefaultWindow = 300 * time.Millisecond

type Timer interface {
	Stop() bool
}

// Clock подменяется в тестах.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock — часы на time.AfterFunc.
var RealClock Clock = realClock{}

// Debouncer вызывает fn один раз через window после последнего Trigger.
type Debouncer struct {
	mu      sync.Mutex
	clock   Clock
	window  time.Duration
	fn      func()
	timer   Timer
	gen     uint64
	pending bool
}

func New(window time.Duration, fn func(), clock Clock) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = RealClock
	}
	return &Debouncer{clock: clock, window: window, fn: fn}
}

// Trigger отменяет запланированный вызов и взводит таймер заново.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// таймер мог сработать уже после Stop
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
