package main

import "time"

// DebugEntry is one line of the rolling diagnostic log.
type DebugEntry struct {
	TimestampText string `json:"timestamp"` // "mm:ss"
	Message       string `json:"message"`
}

// String renders the entry the way it is displayed: "[mm:ss] message".
func (e DebugEntry) String() string {
	return "[" + e.TimestampText + "] " + e.Message
}

// debugLogClearedMessage is appended by Clear so an emptied log is never silent.
const debugLogClearedMessage = "debug log cleared"

// DebugLog is a fixed-capacity ring buffer of DebugEntry values.
// When full, appending evicts the oldest entry.
//
// DebugLog is owned by the daemon goroutine (see DaemonState); it is not safe for
// concurrent use. Other goroutines get copies via Entries/Lines.
type DebugLog struct {
	buf  [debugLogCapacity]DebugEntry
	head int // index of the oldest entry
	n    int
}

// Append records message stamped with at.
func (l *DebugLog) Append(at time.Time, message string) {
	e := DebugEntry{TimestampText: formatClock(at), Message: message}
	if l.n < len(l.buf) {
		l.buf[(l.head+l.n)%len(l.buf)] = e
		l.n++
		return
	}
	l.buf[l.head] = e
	l.head = (l.head + 1) % len(l.buf)
}

// Clear drops every entry and then appends a single clearance marker.
func (l *DebugLog) Clear(at time.Time) {
	*l = DebugLog{}
	l.Append(at, debugLogClearedMessage)
}

// Len returns the number of stored entries.
func (l *DebugLog) Len() int { return l.n }

// Entries returns a copy of the entries, oldest first.
func (l *DebugLog) Entries() []DebugEntry {
	out := make([]DebugEntry, 0, l.n)
	for i := 0; i < l.n; i++ {
		out = append(out, l.buf[(l.head+i)%len(l.buf)])
	}
	return out
}

// Lines returns the display form of Entries.
func (l *DebugLog) Lines() []string {
	out := make([]string, 0, l.n)
	for i := 0; i < l.n; i++ {
		out = append(out, l.buf[(l.head+i)%len(l.buf)].String())
	}
	return out
}

// formatClock renders the minute and second of t as "mm:ss" in local time.
func formatClock(t time.Time) string {
	return t.Format("04:05")
}
