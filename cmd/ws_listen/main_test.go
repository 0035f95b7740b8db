package main

import "testing"

func TestOverlap(t *testing.T) {
	tests := []struct {
		name       string
		prev, next []string
		want       int
	}{
		{"first frame", nil, []string{"a", "b"}, 0},
		{"appended", []string{"a", "b"}, []string{"a", "b", "c"}, 2},
		{"rolled", []string{"a", "b", "c"}, []string{"b", "c", "d"}, 2},
		{"cleared", []string{"a", "b", "c"}, []string{"[00:01] debug log cleared"}, 0},
		{"unchanged", []string{"a", "b"}, []string{"a", "b"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overlap(tt.prev, tt.next); got != tt.want {
				t.Fatalf("overlap = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFeedTracker_Counts(t *testing.T) {
	tr := &feedTracker{}
	tr.handle([]byte(`{"type":"press_accepted","ts":"2025-01-01T00:00:00Z","data":{"source":"a","event_time":"00:00"}}`))
	tr.handle([]byte(`{"type":"press_suppressed","data":{"source":"b"}}`))
	tr.handle([]byte(`{"type":"press_accepted","ts":"2025-01-01T00:00:01Z","data":{"source":"c","event_time":"00:01"}}`))

	accepted, suppressed := tr.totals()
	if accepted != 2 || suppressed != 1 {
		t.Fatalf("totals = %d/%d, want 2/1", accepted, suppressed)
	}
}
