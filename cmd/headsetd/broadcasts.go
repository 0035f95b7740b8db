package main

import "time"

// StateBroadcast is a reducer-emitted, externally visible state change.
// The websocket broadcaster and the metrics collector consume these.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastPressAccepted is emitted once per accepted press.
type BroadcastPressAccepted struct {
	Source    string
	EventTime string // "mm:ss"
	At        time.Time
}

func (BroadcastPressAccepted) broadcastMarker() {}

// BroadcastPressSuppressed is emitted for every debounced duplicate.
type BroadcastPressSuppressed struct {
	Source string
	At     time.Time
}

func (BroadcastPressSuppressed) broadcastMarker() {}

// BroadcastDebugChanged carries the full debug log after a change.
type BroadcastDebugChanged struct {
	Lines []string
	At    time.Time
}

func (BroadcastDebugChanged) broadcastMarker() {}

// BroadcastSupportChanged is emitted when the transport probe result changes.
type BroadcastSupportChanged struct {
	Supported bool
	At        time.Time
}

func (BroadcastSupportChanged) broadcastMarker() {}
