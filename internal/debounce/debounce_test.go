package debounce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/neuhoffm/firecms/internal/debounce"
	"github.com/neuhoffm/firecms/internal/debounce/debouncetest"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	clock := debouncetest.NewClock()
	var fired []time.Duration
	d := debounce.New(300*time.Millisecond, func() { fired = append(fired, clock.Now()) }, clock)

	for i := 0; i < 3; i++ {
		d.Trigger()
		clock.Advance(50 * time.Millisecond)
	}
	assert.Empty(t, fired)
	assert.True(t, d.Pending())

	// последний Trigger был на 100ms, сейчас 150ms
	clock.Advance(249 * time.Millisecond)
	assert.Empty(t, fired)
	clock.Advance(1 * time.Millisecond)
	assert.Equal(t, []time.Duration{400 * time.Millisecond}, fired)
	assert.False(t, d.Pending())

	clock.Advance(time.Second)
	assert.Len(t, fired, 1)
}

func TestDebouncer_Cancel(t *testing.T) {
	clock := debouncetest.NewClock()
	var n atomic.Int32
	d := debounce.New(0, func() { n.Add(1) }, clock)

	d.Trigger()
	d.Cancel()
	assert.False(t, d.Pending())
	clock.Advance(debounce.DefaultWindow * 2)
	assert.Zero(t, n.Load())
	assert.Zero(t, clock.Pending())
}

func TestDebouncer_RealClock(t *testing.T) {
	done := make(chan struct{})
	d := debounce.New(5*time.Millisecond, func() { close(done) }, nil)
	d.Trigger()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced call did not fire")
	}
}
