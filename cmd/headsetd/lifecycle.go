package main

import (
	"context"
	"log/slog"
	"sync"
)

// ============================================================================
// Lifecycle: adapter registration and symmetric teardown
// ============================================================================

// Registrar accumulates cleanup closures for successfully registered listeners and
// runs them once, newest first, on Teardown.
type Registrar struct {
	mu   sync.Mutex
	regs []registration
	done bool
	once sync.Once
}

type registration struct {
	id      string
	cleanup func()
}

// Add records a live registration. If the registrar was already torn down the
// cleanup runs immediately so late registrations cannot leak.
func (r *Registrar) Add(id string, cleanup func()) {
	if cleanup == nil {
		cleanup = func() {}
	}
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		cleanup()
		return
	}
	r.regs = append(r.regs, registration{id: id, cleanup: cleanup})
	r.mu.Unlock()
}

// Active returns the ids of registrations not yet cleaned up, oldest first.
func (r *Registrar) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.regs))
	for _, reg := range r.regs {
		ids = append(ids, reg.id)
	}
	return ids
}

// Teardown runs every cleanup in reverse registration order. Safe to call more
// than once and from any goroutine; only the first call does anything.
func (r *Registrar) Teardown() {
	r.once.Do(func() {
		r.mu.Lock()
		regs := r.regs
		r.regs = nil
		r.done = true
		r.mu.Unlock()

		for i := len(regs) - 1; i >= 0; i-- {
			regs[i].cleanup()
		}
	})
}

// ListenerAdapter is an input channel that attaches listeners to r and reports
// what it sees to sink.
type ListenerAdapter interface {
	Attach(r *Registrar, sink CandidateSink) error
}

// WorkerInstaller installs the caching worker from a base URL.
type WorkerInstaller interface {
	Install(ctx context.Context, base string) error
}

// Lifecycle wires every adapter to the sink on Activate and hands back one
// teardown for all of them.
type Lifecycle struct {
	Sink CandidateSink

	// Worker is optional. WorkerBases are tried in order (primary, then fallback).
	Worker      WorkerInstaller
	WorkerBases []string

	// Transport is optional; nil means the capability is absent.
	Transport TransportProvider

	Keyboard   ListenerAdapter
	Visibility ListenerAdapter

	Logger *slog.Logger
}

// Activate registers all adapters and returns an idempotent teardown.
//
// Nothing here fails the activation: every problem becomes a debug note and the
// remaining adapters are still registered. Worker installation runs detached and
// is never awaited.
func (l *Lifecycle) Activate(ctx context.Context) (teardown func()) {
	reg := &Registrar{}
	sink := l.Sink

	sink.Note("starting headset detection setup")

	if l.Worker != nil && len(l.WorkerBases) > 0 {
		go l.installWorker(ctx)
	} else {
		sink.Note("caching worker not available")
	}

	l.attachTransport(ctx, reg)

	if l.Keyboard != nil {
		if err := l.Keyboard.Attach(reg, sink); err != nil {
			sink.Note("keyboard listeners not attached: %v", err)
		}
	}
	if l.Visibility != nil {
		if err := l.Visibility.Attach(reg, sink); err != nil {
			sink.Note("visibility observer not attached: %v", err)
		}
	}

	sink.Note("event listeners configured, capturing media events")
	l.Logger.Info("lifecycle active", "registrations", reg.Active())

	return reg.Teardown
}

func (l *Lifecycle) installWorker(ctx context.Context) {
	for i, base := range l.WorkerBases {
		err := l.Worker.Install(ctx, base)
		if err == nil {
			if i == 0 {
				l.Sink.Note("caching worker registered")
			} else {
				l.Sink.Note("caching worker registered from fallback %s", base)
			}
			return
		}
		l.Logger.Warn("caching worker install failed", "base", base, "error", err)
		if i == 0 {
			l.Sink.Note("caching worker registration failed: %v", err)
		} else {
			l.Sink.Note("caching worker fallback failed too: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// attachTransport probes the capability once and, if present, installs a handler
// for every transport action.
func (l *Lifecycle) attachTransport(ctx context.Context, reg *Registrar) {
	sink := l.Sink

	if l.Transport == nil {
		sink.Submit(SupportProbed{Supported: false})
		sink.Note("transport control not supported")
		return
	}

	session, err := l.Transport.Probe(ctx)
	if err != nil {
		l.Logger.Info("transport control unavailable", "error", err)
		sink.Submit(SupportProbed{Supported: false})
		sink.Note("transport control not supported: %v", err)
		return
	}

	sink.Submit(SupportProbed{Supported: true})
	sink.Note("transport control available")

	var registered []TransportAction
	for _, action := range TransportActions {
		source := transportSourcePrefix + string(action)
		if err := session.SetActionHandler(action, func() { sink.RecordCandidate(source) }); err != nil {
			l.Logger.Warn("transport handler not registered", "action", action, "error", err)
			sink.Note("transport handler %s failed: %v", action, err)
			continue
		}
		l.Logger.Debug("transport handler registered", "action", action)
		registered = append(registered, action)
	}
	sink.Note("transport handlers configured (%d/%d)", len(registered), len(TransportActions))

	reg.Add("transport", func() {
		for _, action := range registered {
			if err := session.SetActionHandler(action, nil); err != nil {
				l.Logger.Warn("clearing transport handler failed", "action", action, "error", err)
				sink.Note("clearing transport handler %s failed: %v", action, err)
			}
		}
		if err := session.Close(); err != nil {
			l.Logger.Warn("closing transport session failed", "error", err)
		}
	})
}
