package sim

import "fmt"

// Reason tells why a run ended.
type Reason int

const (
	ReasonNone Reason = iota
	TargetReached
	WallTimeExceeded
	UserRequestedStop
	// Interrupted and Failed are never raised by observers; they only
	// appear in reports.
	Interrupted
	Failed
)

var reasonNames = map[Reason]string{
	ReasonNone:        "none",
	TargetReached:     "target-reached",
	WallTimeExceeded:  "wall-time-exceeded",
	UserRequestedStop: "user-requested-stop",
	Interrupted:       "interrupted",
	Failed:            "failed",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// Stop is the termination signal an observer returns to end the run
// successfully. The registry separates it from real failures before the
// run loop sees either.
type Stop struct {
	Reason  Reason
	Message string
}

func (s *Stop) Error() string {
	return fmt.Sprintf("%s: %s", s.Reason, s.Message)
}

// Halt builds a termination signal for an observer to return.
func Halt(reason Reason, format string, args ...any) error {
	return &Stop{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
