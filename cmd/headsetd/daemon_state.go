package main

import "time"

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon goroutine touches it (through Reduce). Adapters and servers never
// see a *DaemonState; they submit Events and read StateSnapshot copies.
type DaemonState struct {
	// Fusion is the debounce gate state: when the last press was accepted.
	Fusion FusionState

	// Debug is the rolling diagnostic log shown to users.
	Debug DebugLog

	// Stats counts decisions since start. Exposed in snapshots.
	Stats FusionStats
}

// FusionState is the logical "last button press" state.
type FusionState struct {
	// LastAccepted is the delivery time of the last accepted candidate.
	// Zero means nothing has been accepted yet.
	LastAccepted time.Time

	// LastAcceptedText is LastAccepted formatted as "mm:ss" at acceptance time.
	LastAcceptedText string

	// Supported reports whether the transport-control capability was found at startup.
	Supported bool
}

type FusionStats struct {
	Accepted   uint64
	Suppressed uint64
}

// StateSnapshot is an immutable copy of the presentation-facing state.
type StateSnapshot struct {
	LastEventTime string // empty when no press has been accepted yet
	HasEvent      bool
	IsSupported   bool
	DebugInfo     []string

	Accepted   uint64
	Suppressed uint64
}

// Snapshot copies the presentation-facing fields of s.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) Snapshot() StateSnapshot {
	return StateSnapshot{
		LastEventTime: s.Fusion.LastAcceptedText,
		HasEvent:      !s.Fusion.LastAccepted.IsZero(),
		IsSupported:   s.Fusion.Supported,
		DebugInfo:     s.Debug.Lines(),
		Accepted:      s.Stats.Accepted,
		Suppressed:    s.Stats.Suppressed,
	}
}
