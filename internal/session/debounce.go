package session

import "time"

// debouncer fires once delay has elapsed since the last arm. It is driven by
// Tick, not by timers, so the host decides when time passes.
type debouncer struct {
	delay     time.Duration
	remaining time.Duration
	armed     bool
}

func newDebouncer(delay time.Duration) debouncer {
	return debouncer{delay: delay}
}

// arm (re)starts the countdown.
func (d *debouncer) arm() {
	d.armed = true
	d.remaining = d.delay
}

func (d *debouncer) disarm() {
	d.armed = false
	d.remaining = 0
}

// tick advances the countdown and reports whether it fired.
func (d *debouncer) tick(elapsed time.Duration) bool {
	if !d.armed {
		return false
	}
	d.remaining -= elapsed
	if d.remaining > 0 {
		return false
	}
	d.disarm()
	return true
}
