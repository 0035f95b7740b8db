//go:build linux

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// KeyboardAdapter reports media key presses from evdev devices.
type KeyboardAdapter struct {
	// Devices are paths or glob patterns (e.g. /dev/input/by-id/*-event-kbd).
	Devices []string

	// Grab takes exclusive access (EVIOCGRAB) so the keys do not also reach the
	// desktop's own media handling.
	Grab bool

	Logger *slog.Logger

	// open is swapped in tests.
	open func(path string) (*os.File, error)
}

// resolveDevices expands glob patterns. Plain paths are kept even if they do not
// exist yet so the open error is reported against them.
func resolveDevices(patterns []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paths := []string{p}
		if strings.ContainsAny(p, "*?[") {
			matches, err := filepath.Glob(p)
			if err != nil {
				continue
			}
			paths = matches
		}
		for _, path := range paths {
			if !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
		}
	}
	return out
}

// Attach opens every device, registers a per-device cleanup and starts one epoll
// reader for all of them. Devices that fail to open are noted and skipped.
func (k *KeyboardAdapter) Attach(reg *Registrar, sink CandidateSink) error {
	open := k.open
	if open == nil {
		open = func(path string) (*os.File, error) { return os.OpenFile(path, os.O_RDONLY, 0) }
	}

	paths := resolveDevices(k.Devices)
	if len(paths) == 0 {
		return errors.New("no input devices matched")
	}

	var files []*os.File
	for _, path := range paths {
		f, err := open(path)
		if err != nil {
			k.Logger.Warn("cannot open input device", "device", path, "error", err)
			sink.Note("cannot open %s: %v", path, err)
			continue
		}

		grabbed := false
		if k.Grab {
			if err := unix.IoctlSetInt(int(f.Fd()), eviocgrab, 1); err != nil {
				k.Logger.Warn("cannot grab input device", "device", path, "error", err)
				sink.Note("cannot grab %s: %v", path, err)
			} else {
				grabbed = true
			}
		}

		k.Logger.Info("input device opened", "device", path, "grabbed", grabbed)
		files = append(files, f)
		reg.Add("keyboard:"+path, func() {
			if grabbed {
				_ = unix.IoctlSetInt(int(f.Fd()), eviocgrab, 0)
			}
			_ = f.Close()
		})
	}
	if len(files) == 0 {
		return fmt.Errorf("none of %d input devices could be opened", len(paths))
	}

	onEvent := func(dev string, ev inputEvent) {
		label, ok := matchMediaKey(ev)
		if !ok {
			return
		}
		sink.Note("media key detected: %s (code %d)", label, ev.Code)
		sink.RecordCandidate(keydownSourcePrefix + label)
	}
	onError := func(dev string, err error) {
		k.Logger.Warn("input device dropped", "device", dev, "error", err)
		sink.Note("input device %s dropped: %v", dev, err)
	}

	reader, err := newEpollReader(files, onEvent, onError)
	if err != nil {
		return err
	}
	go reader.Run()

	// Added last so teardown stops the reader before any file is closed.
	reg.Add("keyboard-reader", reader.Stop)
	return nil
}
