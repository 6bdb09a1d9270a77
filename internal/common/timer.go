// Package common provides shared timing and benchmarking helpers.
package common

import (
	"fmt"
	"strings"
	"time"
)

// Timer measures one named interval.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a new unnamed timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer creates a new timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the timer name (empty string if unnamed).
func (t *Timer) Name() string {
	return t.name
}

// String returns a formatted string representation of the timer.
func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return t.duration.String()
}

// Stages collects sequential stage durations for one frame, e.g. decode
// then predict then encode.
type Stages struct {
	timers []*Timer
}

// Start stops the running stage, if any, and starts a new one.
func (s *Stages) Start(name string) {
	s.stopLast()
	s.timers = append(s.timers, NewNamedTimer(name))
}

// Stop ends the running stage.
func (s *Stages) Stop() { s.stopLast() }

func (s *Stages) stopLast() {
	if n := len(s.timers); n > 0 && s.timers[n-1].duration == 0 {
		s.timers[n-1].Stop()
	}
}

// Get returns the duration of the named stage.
func (s *Stages) Get(name string) time.Duration {
	for _, t := range s.timers {
		if t.name == name {
			return t.duration
		}
	}
	return 0
}

// Total returns the sum of all finished stages.
func (s *Stages) Total() time.Duration {
	var total time.Duration
	for _, t := range s.timers {
		total += t.duration
	}
	return total
}

// String renders "decode: 1ms, predict: 20ms".
func (s *Stages) String() string {
	parts := make([]string, 0, len(s.timers))
	for _, t := range s.timers {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ", ")
}
