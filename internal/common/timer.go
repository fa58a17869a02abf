// Package common holds the registration error taxonomy and small shared helpers.
package common

import (
	"fmt"
	"strings"
	"time"
)

// Timer measures a single named stage.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewNamedTimer starts a timer for the given stage.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop records and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the stage name.
func (t *Timer) Name() string {
	return t.name
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// StageTimings collects per-stage durations of one registration in the order the
// stages ran.
type StageTimings struct {
	Stages []StageTiming `json:"stages"`
}

// StageTiming is one recorded stage.
type StageTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
}

// Track runs fn as the named stage and records its duration even when fn fails.
func (s *StageTimings) Track(name string, fn func() error) error {
	t := NewNamedTimer(name)
	err := fn()
	s.Stages = append(s.Stages, StageTiming{Name: name, Duration: t.Stop()})
	return err
}

// Get returns the duration recorded for name, or zero.
func (s *StageTimings) Get(name string) time.Duration {
	for _, st := range s.Stages {
		if st.Name == name {
			return st.Duration
		}
	}
	return 0
}

// Total sums all stages.
func (s *StageTimings) Total() time.Duration {
	var total time.Duration
	for _, st := range s.Stages {
		total += st.Duration
	}
	return total
}

func (s *StageTimings) String() string {
	parts := make([]string, 0, len(s.Stages))
	for _, st := range s.Stages {
		parts = append(parts, fmt.Sprintf("%s=%v", st.Name, st.Duration.Round(time.Microsecond)))
	}
	return strings.Join(parts, " ")
}
