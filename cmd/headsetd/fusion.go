package main

import (
	"fmt"
	"time"
)

// Outcome is the debounce decision for one candidate press.
type Outcome int

const (
	Suppressed Outcome = iota
	Accepted
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Suppressed:
		return "suppressed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// RecordCandidate runs one candidate through the debounce gate.
//
// A candidate arriving less than window after the last accepted one is suppressed:
// a debug entry naming the source is appended and nothing else changes. Otherwise it
// is accepted: LastAccepted/LastAcceptedText move to at and an acceptance entry is
// appended. The caller owns the side effects of acceptance (tone, broadcast).
//
// Candidates stamped before LastAccepted (wall clock stepped back, or a delayed
// delivery) are suppressed so LastAccepted never goes backwards.
//
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) RecordCandidate(source string, at time.Time, window time.Duration) Outcome {
	if source == "" {
		source = unknownSource
	}

	last := s.Fusion.LastAccepted
	if !last.IsZero() && at.Sub(last) < window {
		s.Stats.Suppressed++
		s.Debug.Append(at, "duplicate press ignored from: "+source)
		return Suppressed
	}

	s.Fusion.LastAccepted = at
	s.Fusion.LastAcceptedText = formatClock(at)
	s.Stats.Accepted++
	s.Debug.Append(at, "headset button detected from: "+source)
	return Accepted
}
