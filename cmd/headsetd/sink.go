package main

import (
	"fmt"
	"log/slog"
)

// CandidateSink is what adapters hold instead of the fusion state: the ability to
// report a candidate press, write a diagnostic line, or submit another event.
//
// Implementations must not block; adapters call these from reader goroutines and
// D-Bus dispatch goroutines.
type CandidateSink interface {
	// RecordCandidate reports a possible press from source. It returns false if
	// the event could not be queued.
	RecordCandidate(source string) bool

	// Note appends a formatted line to the debug log.
	Note(format string, args ...any)

	// Submit queues an arbitrary event.
	Submit(ev Event) bool
}

// eventSink is the CandidateSink backed by the daemon's events channel.
type eventSink struct {
	events chan<- Event
	logger *slog.Logger
}

func newEventSink(events chan<- Event, logger *slog.Logger) *eventSink {
	return &eventSink{events: events, logger: logger}
}

func (s *eventSink) RecordCandidate(source string) bool {
	return s.Submit(CandidatePressed{Source: source})
}

func (s *eventSink) Note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Debug("debug note", "message", msg)
	s.Submit(DebugNote{Message: msg})
}

func (s *eventSink) Submit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		s.logger.Warn("event queue full, dropping event", "event", fmt.Sprintf("%T", ev))
		return false
	}
}
