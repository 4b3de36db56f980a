// Package common provides timing and benchmarking helpers shared by the
// CLI and the server.
package common

import (
	"fmt"
	"time"
)

// Lap is one named stage measured by a Timer.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Timer measures total elapsed time and optional named stages.
type Timer struct {
	start    time.Time
	lapStart time.Time
	name     string
	duration time.Duration
	laps     []Lap
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	now := time.Now()
	return &Timer{start: now, lapStart: now}
}

// NewNamedTimer creates a new timer with the given name.
func NewNamedTimer(name string) *Timer {
	t := NewTimer()
	t.name = name
	return t
}

// Lap records the time since the previous lap (or the start) under name.
func (t *Timer) Lap(name string) time.Duration {
	now := time.Now()
	d := now.Sub(t.lapStart)
	t.lapStart = now
	t.laps = append(t.laps, Lap{Name: name, Duration: d})
	return d
}

// Laps returns the recorded stages in order.
func (t *Timer) Laps() []Lap {
	return append([]Lap(nil), t.laps...)
}

// Elapsed returns the time since the timer started without stopping it.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
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
