package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSink records everything adapters report.
type fakeSink struct {
	mu         sync.Mutex
	candidates []string
	notes      []string
	submitted  []Event
}

func (s *fakeSink) RecordCandidate(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, source)
	return true
}

func (s *fakeSink) Note(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, fmt.Sprintf(format, args...))
}

func (s *fakeSink) Submit(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, ev)
	return true
}

func (s *fakeSink) Candidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.candidates...)
}

func (s *fakeSink) Notes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes...)
}

func (s *fakeSink) hasNote(substr string) bool {
	for _, n := range s.Notes() {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func (s *fakeSink) supportProbed() (supported bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.submitted {
		if sp, isProbe := ev.(SupportProbed); isProbe {
			return sp.Supported, true
		}
	}
	return false, false
}

// fakeTransport is a TransportProvider whose session tracks installed handlers.
type fakeTransport struct {
	probeErr error
	failOn   map[TransportAction]bool

	mu       sync.Mutex
	handlers map[TransportAction]func()
	closed   int
}

func (f *fakeTransport) Probe(ctx context.Context) (TransportSession, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	f.handlers = make(map[TransportAction]func())
	return f, nil
}

func (f *fakeTransport) SetActionHandler(action TransportAction, handler func()) error {
	if f.failOn[action] {
		return fmt.Errorf("action %s not supported", action)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if handler == nil {
		delete(f.handlers, action)
		return nil
	}
	f.handlers[action] = handler
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) fire(action TransportAction) bool {
	f.mu.Lock()
	h := f.handlers[action]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h()
	return true
}

func (f *fakeTransport) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// fakeAdapter attaches one counted listener, or fails.
type fakeAdapter struct {
	id        string
	err       error
	attached  int
	detached  int
	onAttach  func(sink CandidateSink)
	callOrder *[]string
}

func (a *fakeAdapter) Attach(r *Registrar, sink CandidateSink) error {
	if a.err != nil {
		return a.err
	}
	a.attached++
	r.Add(a.id, func() {
		a.detached++
		if a.callOrder != nil {
			*a.callOrder = append(*a.callOrder, a.id)
		}
	})
	if a.onAttach != nil {
		a.onAttach(sink)
	}
	return nil
}

type fakeWorker struct {
	mu    sync.Mutex
	fail  map[string]error
	tried []string
}

func (w *fakeWorker) Install(ctx context.Context, base string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tried = append(w.tried, base)
	return w.fail[base]
}

func (w *fakeWorker) Tried() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tried...)
}

func TestRegistrar_TeardownReverseOrderOnce(t *testing.T) {
	var order []string
	r := &Registrar{}
	r.Add("a", func() { order = append(order, "a") })
	r.Add("b", func() { order = append(order, "b") })
	r.Add("nil", nil)

	if got := r.Active(); len(got) != 3 {
		t.Fatalf("Active = %v, want 3 registrations", got)
	}

	r.Teardown()
	r.Teardown()

	if strings.Join(order, ",") != "b,a" {
		t.Fatalf("cleanup order = %v, want b,a", order)
	}
	if len(r.Active()) != 0 {
		t.Fatalf("expected no active registrations after teardown")
	}
}

func TestRegistrar_AddAfterTeardownRunsImmediately(t *testing.T) {
	r := &Registrar{}
	r.Teardown()

	ran := false
	r.Add("late", func() { ran = true })

	if !ran {
		t.Fatalf("late registration must be cleaned up immediately")
	}
	if len(r.Active()) != 0 {
		t.Fatalf("late registration must not stay active")
	}
}

func TestLifecycle_FullActivationAndTeardown(t *testing.T) {
	sink := &fakeSink{}
	transport := &fakeTransport{}
	var order []string
	kbd := &fakeAdapter{id: "keyboard", callOrder: &order}
	vis := &fakeAdapter{id: "visibility", callOrder: &order}

	lc := &Lifecycle{
		Sink:       sink,
		Transport:  transport,
		Keyboard:   kbd,
		Visibility: vis,
		Logger:     discardLogger(),
	}
	teardown := lc.Activate(context.Background())

	notes := sink.Notes()
	if notes[0] != "starting headset detection setup" {
		t.Fatalf("first note = %q", notes[0])
	}
	if notes[len(notes)-1] != "event listeners configured, capturing media events" {
		t.Fatalf("last note = %q", notes[len(notes)-1])
	}
	if !sink.hasNote("caching worker not available") {
		t.Fatalf("expected worker-unavailable note, got %v", notes)
	}
	if !sink.hasNote(fmt.Sprintf("transport handlers configured (%d/%d)", len(TransportActions), len(TransportActions))) {
		t.Fatalf("expected all transport handlers configured, got %v", notes)
	}
	if supported, ok := sink.supportProbed(); !ok || !supported {
		t.Fatalf("expected SupportProbed{true} to be submitted")
	}

	for _, action := range TransportActions {
		if !transport.fire(action) {
			t.Fatalf("no handler for %s", action)
		}
	}
	got := sink.Candidates()
	if len(got) != len(TransportActions) || got[0] != "transport-play" || got[len(got)-1] != "transport-nexttrack" {
		t.Fatalf("unexpected transport candidates %v", got)
	}

	teardown()
	teardown()

	if transport.live() != 0 {
		t.Fatalf("expected every transport handler cleared, %d left", transport.live())
	}
	if transport.closed != 1 {
		t.Fatalf("expected transport session closed once, got %d", transport.closed)
	}
	if kbd.detached != 1 || vis.detached != 1 {
		t.Fatalf("expected each adapter detached once, got keyboard=%d visibility=%d", kbd.detached, vis.detached)
	}
	if strings.Join(order, ",") != "visibility,keyboard" {
		t.Fatalf("adapter teardown order = %v", order)
	}
}

func TestLifecycle_TransportAbsentStillAcceptsManualPresses(t *testing.T) {
	d := startTestDaemon(t, nopTone{}, FusionPolicy{})
	sink := newEventSink(d.events, discardLogger())

	lc := &Lifecycle{Sink: sink, Logger: discardLogger()}
	teardown := lc.Activate(context.Background())
	defer teardown()

	if !NewManualTrigger(sink).SimulateEvent() {
		t.Fatalf("simulate should be queued")
	}

	var snap StateSnapshot
	waitUntil(t, time.Second, func() bool {
		snap = d.snapshot(t)
		return snap.HasEvent
	}, "manual press not accepted")

	if snap.IsSupported {
		t.Fatalf("is_supported must be false without a transport")
	}
	found := false
	for _, line := range snap.DebugInfo {
		if strings.Contains(line, "transport control not supported") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unsupported note in %v", snap.DebugInfo)
	}
}

func TestLifecycle_TransportProbeFails(t *testing.T) {
	sink := &fakeSink{}
	lc := &Lifecycle{
		Sink:      sink,
		Transport: &fakeTransport{probeErr: errors.New("no session bus")},
		Logger:    discardLogger(),
	}
	teardown := lc.Activate(context.Background())
	defer teardown()

	if supported, ok := sink.supportProbed(); !ok || supported {
		t.Fatalf("expected SupportProbed{false}")
	}
	if !sink.hasNote("transport control not supported: no session bus") {
		t.Fatalf("expected probe failure note, got %v", sink.Notes())
	}
}

func TestLifecycle_PartialHandlerFailure(t *testing.T) {
	sink := &fakeSink{}
	transport := &fakeTransport{failOn: map[TransportAction]bool{ActionSeekBackward: true, ActionSeekForward: true}}
	lc := &Lifecycle{Sink: sink, Transport: transport, Logger: discardLogger()}

	teardown := lc.Activate(context.Background())

	if !sink.hasNote("transport handler seekbackward failed") || !sink.hasNote("transport handler seekforward failed") {
		t.Fatalf("expected per-action failure notes, got %v", sink.Notes())
	}
	want := fmt.Sprintf("transport handlers configured (%d/%d)", len(TransportActions)-2, len(TransportActions))
	if !sink.hasNote(want) {
		t.Fatalf("expected %q, got %v", want, sink.Notes())
	}
	if !transport.fire(ActionPlay) {
		t.Fatalf("healthy actions must still be registered")
	}

	teardown()
	if transport.live() != 0 {
		t.Fatalf("expected zero residual handlers, got %d", transport.live())
	}
}

func TestLifecycle_AdapterFailureDoesNotBlockOthers(t *testing.T) {
	sink := &fakeSink{}
	vis := &fakeAdapter{id: "visibility"}
	lc := &Lifecycle{
		Sink:       sink,
		Keyboard:   &fakeAdapter{err: errors.New("permission denied")},
		Visibility: vis,
		Logger:     discardLogger(),
	}

	teardown := lc.Activate(context.Background())
	defer teardown()

	if !sink.hasNote("keyboard listeners not attached: permission denied") {
		t.Fatalf("expected keyboard failure note, got %v", sink.Notes())
	}
	if vis.attached != 1 {
		t.Fatalf("visibility observer should still attach")
	}
}

func TestLifecycle_WorkerFallback(t *testing.T) {
	sink := &fakeSink{}
	worker := &fakeWorker{fail: map[string]error{"http://primary/": errors.New("404")}}
	lc := &Lifecycle{
		Sink:        sink,
		Worker:      worker,
		WorkerBases: []string{"http://primary/", "http://fallback/"},
		Logger:      discardLogger(),
	}

	teardown := lc.Activate(context.Background())
	defer teardown()

	waitUntil(t, time.Second, func() bool {
		return sink.hasNote("caching worker registered from fallback http://fallback/")
	}, "fallback registration not noted")

	if !sink.hasNote("caching worker registration failed: 404") {
		t.Fatalf("expected primary failure note, got %v", sink.Notes())
	}
	if tried := worker.Tried(); len(tried) != 2 {
		t.Fatalf("expected both bases tried, got %v", tried)
	}
}

func TestLifecycle_WorkerBothFail(t *testing.T) {
	sink := &fakeSink{}
	worker := &fakeWorker{fail: map[string]error{
		"http://primary/":  errors.New("404"),
		"http://fallback/": errors.New("timeout"),
	}}
	lc := &Lifecycle{
		Sink:        sink,
		Worker:      worker,
		WorkerBases: []string{"http://primary/", "http://fallback/"},
		Logger:      discardLogger(),
	}

	teardown := lc.Activate(context.Background())
	defer teardown()

	waitUntil(t, time.Second, func() bool {
		return sink.hasNote("caching worker fallback failed too: timeout")
	}, "fallback failure not noted")
}
