package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Every adapter funnels into one events channel; this goroutine is the single
// writer of DaemonState. Per delivered event:
//
//   stamp (TimedEvent) -> Reduce -> publish broadcasts -> run commands
//
// Effects may emit follow-up events (ToneFailed); those are reduced before the
// next delivered event is read, so the debug log stays in delivery order.
//
// ============================================================================

// runDaemon runs the reducer loop until ctx is canceled or events is closed.
//
// broadcasts may be nil. Sends to it never block: if the consumer falls behind the
// broadcast is dropped and logged.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	tone Tone,
	policy FusionPolicy,
	state *DaemonState,
	broadcasts chan<- StateBroadcast,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bs []StateBroadcast) {
		for _, b := range bs {
			observeBroadcast(b)
			switch v := b.(type) {
			case BroadcastPressAccepted:
				logger.Info("press accepted", "source", v.Source, "event_time", v.EventTime)
			case BroadcastPressSuppressed:
				logger.Debug("press suppressed", "source", v.Source)
			}
			if broadcasts == nil {
				continue
			}
			select {
			case broadcasts <- b:
			default:
				logger.Warn("broadcast queue full, dropping broadcast", "type", broadcastType(b))
			}
		}
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, policy)
			if rr.State != nil {
				state = rr.State
			}
			publish(rr.Broadcasts)
			cmdQueue = append(cmdQueue, rr.Commands...)
		}
	}

	// Execute all queued commands; effect failures are reduced immediately.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(tone, cmd, logger, func(obs Event) {
				enqueueEvent(TimedEvent{Event: obs, At: time.Now()})
			})
			flushEvents()
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			if cp, isCandidate := ev.(CandidatePressed); isCandidate {
				logger.Debug("candidate press", "source", cp.Source)
			}
			enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
			flushEvents()
			flushCommands()
		}
	}
}
