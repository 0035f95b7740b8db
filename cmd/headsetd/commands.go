package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdPlayTone plays the acknowledgement beep for an accepted press.
type CmdPlayTone struct {
	Source string
}

func (CmdPlayTone) commandMarker() {}
func (c CmdPlayTone) String() string {
	return fmt.Sprintf("CmdPlayTone(source=%s)", c.Source)
}

// CmdPublishStateSnapshot delivers a snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
