// Package schedule decides at which step an observer must fire next.
//
// A Scheduler either carries a fixed interval or derives one lazily from a
// target step count and a desired number of calls:
//
//	schedule.Every(100)          // fires at 100, 200, 300, ...
//	schedule.Calls(10)           // target patched later, fires 10 times over it
//	schedule.New(0, 10, 1000)    // resolves to an interval of 100
//
// The derived interval is cached on first resolution; changing the target
// afterwards has no effect on it.
package schedule

import (
	"errors"
	"fmt"
)

// ErrUnresolved is returned when neither an interval nor a target is known.
var ErrUnresolved = errors.New("schedule: needs an interval or a target to estimate the interval")

type Scheduler struct {
	interval int
	calls    int
	target   int
}

// New returns a scheduler. Zero or negative values mean "unset".
func New(interval, calls, target int) *Scheduler {
	return &Scheduler{
		interval: max(interval, 0),
		calls:    max(calls, 0),
		target:   max(target, 0),
	}
}

// Every returns a fixed-interval scheduler.
func Every(interval int) *Scheduler {
	return New(interval, 0, 0)
}

// Calls returns a scheduler that fires n times over a target set later.
func Calls(n int) *Scheduler {
	return New(0, n, 0)
}

// Interval resolves and caches the interval.
func (s *Scheduler) Interval() (int, error) {
	if s.interval > 0 {
		return s.interval, nil
	}
	if s.target <= 0 {
		return 0, ErrUnresolved
	}
	if s.calls > 0 {
		s.interval = max(1, s.target/s.calls)
	} else {
		s.interval = s.target
	}
	return s.interval, nil
}

// Next returns the smallest multiple of the interval strictly greater than
// current. A current step sitting on a boundary yields the following one.
func (s *Scheduler) Next(current int) (int, error) {
	n, err := s.Interval()
	if err != nil {
		return 0, err
	}
	return (current/n + 1) * n, nil
}

// Due reports whether current lies on the interval grid.
func (s *Scheduler) Due(current int) (bool, error) {
	n, err := s.Interval()
	if err != nil {
		return false, err
	}
	return current%n == 0, nil
}

// Resolved reports whether the interval is already fixed.
func (s *Scheduler) Resolved() bool { return s.interval > 0 }

func (s *Scheduler) Target() int { return s.target }
func (s *Scheduler) Calls() int  { return s.calls }

// SetTarget patches the target. It does not alter a resolved interval.
func (s *Scheduler) SetTarget(target int) {
	s.target = max(target, 0)
}

func (s *Scheduler) String() string {
	interval := "unset"
	if s.interval > 0 {
		interval = fmt.Sprint(s.interval)
	}
	calls := "unset"
	if s.calls > 0 {
		calls = fmt.Sprint(s.calls)
	}
	return fmt.Sprintf("interval=%s calls=%s", interval, calls)
}
