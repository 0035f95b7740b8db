package main

import (
	"fmt"
	"testing"
	"time"
)

func clockAt(min, sec int) time.Time {
	return time.Date(2025, 1, 2, 10, min, sec, 0, time.Local)
}

func TestDebugLog_AppendFormatsEntries(t *testing.T) {
	var l DebugLog
	l.Append(clockAt(3, 7), "hello")

	lines := l.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0] != "[03:07] hello" {
		t.Fatalf("got %q, want %q", lines[0], "[03:07] hello")
	}
}

func TestDebugLog_EvictsOldestBeyondCapacity(t *testing.T) {
	var l DebugLog
	for i := 0; i < debugLogCapacity+1; i++ {
		l.Append(clockAt(0, i), fmt.Sprintf("m%d", i))
	}

	if l.Len() != debugLogCapacity {
		t.Fatalf("expected len %d, got %d", debugLogCapacity, l.Len())
	}
	entries := l.Entries()
	if entries[0].Message != "m1" {
		t.Fatalf("expected oldest surviving entry m1, got %q", entries[0].Message)
	}
	if last := entries[len(entries)-1].Message; last != fmt.Sprintf("m%d", debugLogCapacity) {
		t.Fatalf("expected newest entry m%d, got %q", debugLogCapacity, last)
	}
}

func TestDebugLog_ClearLeavesMarker(t *testing.T) {
	var l DebugLog
	for i := 0; i < 5; i++ {
		l.Append(clockAt(1, i), "x")
	}
	l.Clear(clockAt(2, 0))

	if l.Len() != 1 {
		t.Fatalf("expected 1 entry after clear, got %d", l.Len())
	}
	if got := l.Lines()[0]; got != "[02:00] "+debugLogClearedMessage {
		t.Fatalf("unexpected marker line %q", got)
	}
}

func TestDebugLog_EntriesIsACopy(t *testing.T) {
	var l DebugLog
	l.Append(clockAt(0, 1), "a")

	entries := l.Entries()
	entries[0].Message = "mutated"

	if l.Entries()[0].Message != "a" {
		t.Fatalf("Entries must not expose internal storage")
	}
}

func TestDebugLog_WrapsRepeatedly(t *testing.T) {
	var l DebugLog
	for i := 0; i < 3*debugLogCapacity+4; i++ {
		l.Append(clockAt(0, i%60), fmt.Sprintf("m%d", i))
	}
	entries := l.Entries()
	first := 2*debugLogCapacity + 4
	for i, e := range entries {
		if want := fmt.Sprintf("m%d", first+i); e.Message != want {
			t.Fatalf("entry %d: got %q, want %q", i, e.Message, want)
		}
	}
}
