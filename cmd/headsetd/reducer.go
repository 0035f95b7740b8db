package main

import (
	"time"
)

// This file implements the reducer-style architecture building blocks:
//
//   - Events: inputs to the reducer (candidate presses, debug-log requests, probe results, effect failures)
//   - Commands: side effects requested by the reducer (tone playback, snapshot replies)
//   - Broadcasts: externally visible state changes for the websocket feed and metrics
//   - Reduce(): computes next state + commands + broadcasts, without performing I/O
//
// The daemon loop is responsible for executing Commands and feeding failures back as Events.

// FusionPolicy is the reducer's configuration.
type FusionPolicy struct {
	// DebounceWindow is the minimum spacing between two accepted presses.
	DebounceWindow time.Duration
}

// ReduceResult is the output of Reduce(): next state plus Commands to execute and
// Broadcasts to publish.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce is the pure reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
func Reduce(s *DaemonState, e Event, policy FusionPolicy) ReduceResult {
	if s == nil {
		s = &DaemonState{}
	}

	at := time.Time{}
	if te, ok := e.(TimedEvent); ok {
		at = te.At
		e = te.Event
	}
	if at.IsZero() {
		at = time.Now()
	}

	var cmds []Command
	var bcasts []StateBroadcast

	debugChanged := func() {
		bcasts = append(bcasts, BroadcastDebugChanged{Lines: s.Debug.Lines(), At: at})
	}

	switch ev := e.(type) {
	case CandidatePressed:
		source := ev.Source
		if source == "" {
			source = unknownSource
		}

		switch s.RecordCandidate(source, at, policy.DebounceWindow) {
		case Accepted:
			cmds = append(cmds, CmdPlayTone{Source: source})
			bcasts = append(bcasts, BroadcastPressAccepted{
				Source:    source,
				EventTime: s.Fusion.LastAcceptedText,
				At:        at,
			})
		case Suppressed:
			bcasts = append(bcasts, BroadcastPressSuppressed{Source: source, At: at})
		}
		debugChanged()

	case ClearDebugLog:
		s.Debug.Clear(at)
		debugChanged()

	case DebugNote:
		if ev.Message == "" {
			break
		}
		s.Debug.Append(at, ev.Message)
		debugChanged()

	case SupportProbed:
		if s.Fusion.Supported != ev.Supported {
			bcasts = append(bcasts, BroadcastSupportChanged{Supported: ev.Supported, At: at})
		}
		s.Fusion.Supported = ev.Supported

	case ToneFailed:
		msg := "tone playback failed"
		if ev.Err != nil {
			msg += ": " + ev.Err.Error()
		}
		s.Debug.Append(at, msg)
		debugChanged()

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{
			Reply:    ev.Reply,
			Snapshot: s.Snapshot(),
		})

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcasts,
	}
}
