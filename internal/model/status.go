package model

import "github.com/rotisserie/eris"

// PatternStatus is the lifecycle state of a correction pattern.
type PatternStatus string

const (
	StatusDetected  PatternStatus = "detected"
	StatusCandidate PatternStatus = "candidate"
	StatusSuggested PatternStatus = "suggested"
	StatusProcessed PatternStatus = "processed"
	StatusIgnored   PatternStatus = "ignored"
)

// ErrInvalidTransition is returned when a status change would move a pattern
// backward or skip a lifecycle stage.
var ErrInvalidTransition = eris.New("invalid pattern status transition")

// forwardTransitions lists the only allowed status moves. Detected→Candidate
// is engine-driven; the rest are operator-driven. There is no path back.
var forwardTransitions = map[PatternStatus][]PatternStatus{
	StatusDetected:  {StatusCandidate},
	StatusCandidate: {StatusSuggested},
	StatusSuggested: {StatusProcessed, StatusIgnored},
}

// Valid reports whether s is a known pattern status.
func (s PatternStatus) Valid() bool {
	switch s {
	case StatusDetected, StatusCandidate, StatusSuggested, StatusProcessed, StatusIgnored:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// step. Processed and Ignored are terminal for status purposes.
func (s PatternStatus) CanTransitionTo(next PatternStatus) bool {
	for _, allowed := range forwardTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}
