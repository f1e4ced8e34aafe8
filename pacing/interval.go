// Package pacing implements the adaptive polling interval and the retry
// policy shared by the pipeline loops.
package pacing

import (
	"fmt"
	"time"
)

// Policy describes how a loop's interval moves between Floor and Ceiling.
type Policy struct {
	Initial    time.Duration `yaml:"initial"`
	Floor      time.Duration `yaml:"floor"`
	Ceiling    time.Duration `yaml:"ceiling"`
	Step       time.Duration `yaml:"step"`
	Resolution time.Duration `yaml:"resolution"`
}

// Validate ensures the bounds are coherent.
func (p Policy) Validate() error {
	if p.Floor <= 0 {
		return fmt.Errorf("floor must be positive")
	}
	if p.Ceiling < p.Floor {
		return fmt.Errorf("ceiling (%s) cannot be below floor (%s)", p.Ceiling, p.Floor)
	}
	if p.Initial < p.Floor || p.Initial > p.Ceiling {
		return fmt.Errorf("initial interval %s outside [%s, %s]", p.Initial, p.Floor, p.Ceiling)
	}
	if p.Step <= 0 {
		return fmt.Errorf("step must be positive")
	}
	if p.Resolution < 0 {
		return fmt.Errorf("resolution cannot be negative")
	}
	return nil
}

// SpeedUp shortens current by step, snapped to resolution, never below floor.
func SpeedUp(current, floor, step, resolution time.Duration) time.Duration {
	return max(floor, snap(current-step, resolution))
}

// SlowDown lengthens current by step, snapped to resolution, never above ceiling.
func SlowDown(current, ceiling, step, resolution time.Duration) time.Duration {
	return min(ceiling, snap(current+step, resolution))
}

func snap(d, resolution time.Duration) time.Duration {
	if resolution <= 0 {
		return d
	}
	return d.Round(resolution)
}

// Interval is the current sleep of one loop. It is owned by that loop's
// goroutine and is not safe for concurrent use.
type Interval struct {
	policy  Policy
	current time.Duration
}

// NewInterval starts at p.Initial, clamped into [Floor, Ceiling].
func NewInterval(p Policy) *Interval {
	current := p.Initial
	if current < p.Floor {
		current = p.Floor
	}
	if p.Ceiling > 0 && current > p.Ceiling {
		current = p.Ceiling
	}
	return &Interval{policy: p, current: current}
}

// Current returns the interval without changing it.
func (i *Interval) Current() time.Duration {
	return i.current
}

// SpeedUp shortens the interval and returns the new value.
func (i *Interval) SpeedUp() time.Duration {
	i.current = SpeedUp(i.current, i.policy.Floor, i.policy.Step, i.policy.Resolution)
	return i.current
}

// SlowDown lengthens the interval and returns the new value.
func (i *Interval) SlowDown() time.Duration {
	i.current = SlowDown(i.current, i.policy.Ceiling, i.policy.Step, i.policy.Resolution)
	return i.current
}
