//go:build !linux

package main

import (
	"errors"
	"log/slog"
)

// KeyboardAdapter needs evdev; elsewhere it only reports itself unavailable.
type KeyboardAdapter struct {
	Devices []string
	Grab    bool
	Logger  *slog.Logger
}

func (k *KeyboardAdapter) Attach(reg *Registrar, sink CandidateSink) error {
	return errors.New("evdev input is only supported on linux")
}
