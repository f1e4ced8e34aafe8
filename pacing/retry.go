package pacing

import (
	"errors"
	"fmt"
)

// Decision is what a loop should do after a failed cycle.
type Decision int

const (
	// Retry the same unit of work after sleeping.
	Retry Decision = iota
	// Drop the unit of work; the failure will not go away.
	Drop
	// Abandon the cycle and leave the unit of work for a later pass.
	Abandon
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Drop:
		return "drop"
	case Abandon:
		return "abandon"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// RetryPolicy counts consecutive transient failures of one loop.
type RetryPolicy struct {
	MaxErrors int
	count     int
}

// NewRetryPolicy returns a policy that abandons after maxErrors consecutive
// transient failures.
func NewRetryPolicy(maxErrors int) *RetryPolicy {
	return &RetryPolicy{MaxErrors: maxErrors}
}

// Record classifies err and updates the consecutive failure count.
func (r *RetryPolicy) Record(err error) Decision {
	if IsTerminal(err) {
		r.count = 0
		return Drop
	}
	r.count++
	if r.count >= max(r.MaxErrors, 1) {
		r.count = 0
		return Abandon
	}
	return Retry
}

// Reset clears the failure count after a successful cycle.
func (r *RetryPolicy) Reset() {
	r.count = 0
}

// Failures returns the current consecutive failure count.
func (r *RetryPolicy) Failures() int {
	return r.count
}

type terminal interface {
	Terminal() bool
}

// IsTerminal reports whether any error in err's chain declares itself
// terminal.
func IsTerminal(err error) bool {
	var t terminal
	return errors.As(err, &t) && t.Terminal()
}

// Terminal marks err as terminal. It returns nil for a nil err.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

type terminalError struct {
	err error
}

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }
func (e terminalError) Terminal() bool { return true }
