package main

import (
	"log/slog"
)

// runEffect executes a single reducer-emitted Command and reports failures as Events
// via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
// - It must never panic or block on a requester; failures become Events or log lines.
func runEffect(
	tone Tone,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		// No place to report observations/errors; nothing sensible to do.
		return
	}

	switch c := cmd.(type) {
	case CmdPlayTone:
		if tone == nil {
			onEvent(ToneFailed{Err: errNoTone{}})
			return
		}
		if err := tone.Play(); err != nil {
			logger.Warn("tone playback failed", "error", err, "source", c.Source)
			toneFailuresTotal.Inc()
			onEvent(ToneFailed{Err: err})
		}

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the daemon loop on a slow requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}

// errNoTone indicates a tone command was executed without a tone generator.
type errNoTone struct{}

func (errNoTone) Error() string { return "no tone generator configured" }
