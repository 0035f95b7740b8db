//go:build linux

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveDevices(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"usb-Headset-event-kbd", "usb-Mouse-event-mouse", "bt-Buds-event-kbd"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got := resolveDevices([]string{
		filepath.Join(dir, "*-event-kbd"),
		filepath.Join(dir, "usb-Headset-event-kbd"), // duplicate of a glob match
		"/dev/input/event99",                         // plain path kept as-is
		"  ",
	})

	want := []string{
		filepath.Join(dir, "bt-Buds-event-kbd"),
		filepath.Join(dir, "usb-Headset-event-kbd"),
		"/dev/input/event99",
	}
	if len(got) != len(want) {
		t.Fatalf("resolveDevices = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("resolveDevices = %v, want %v", got, want)
		}
	}
}

func TestKeyboardAdapter_MediaKeysBecomeCandidates(t *testing.T) {
	rf, wf := newTestPipe(t)

	kbd := &KeyboardAdapter{
		Devices: []string{"/dev/input/event-test"},
		Logger:  discardLogger(),
		open: func(path string) (*os.File, error) {
			return rf, nil
		},
	}
	sink := &fakeSink{}
	reg := &Registrar{}

	if err := kbd.Attach(reg, sink); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if _, err := wf.Write(encodeInputEvents(t,
		keyEvent(KEY_PLAYPAUSE, evValuePress),
		keyEvent(KEY_PLAYPAUSE, evValueRepeat),
		keyEvent(KEY_PLAYPAUSE, evValueRelease),
		keyEvent(30, evValuePress),
		keyEvent(KEY_MEDIA, evValuePress),
	)); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return len(sink.Candidates()) == 2 }, "media keys not reported")

	got := sink.Candidates()
	if got[0] != "keydown-MediaPlayPause" || got[1] != "keydown-226" {
		t.Fatalf("unexpected candidates %v", got)
	}
	if !sink.hasNote("media key detected: MediaPlayPause (code 164)") {
		t.Fatalf("expected detection note, got %v", sink.Notes())
	}

	reg.Teardown()
	if len(reg.Active()) != 0 {
		t.Fatalf("expected no registrations after teardown")
	}
	if _, err := rf.Stat(); err == nil {
		t.Fatalf("expected device file closed by teardown")
	}
}

func TestKeyboardAdapter_OpenFailures(t *testing.T) {
	kbd := &KeyboardAdapter{
		Devices: []string{"/dev/input/event1", "/dev/input/event2"},
		Logger:  discardLogger(),
		open: func(path string) (*os.File, error) {
			return nil, errors.New("permission denied")
		},
	}
	sink := &fakeSink{}
	reg := &Registrar{}

	if err := kbd.Attach(reg, sink); err == nil {
		t.Fatalf("expected an error when no device opens")
	}
	if !sink.hasNote("cannot open /dev/input/event2: permission denied") {
		t.Fatalf("expected per-device notes, got %v", sink.Notes())
	}
	if len(reg.Active()) != 0 {
		t.Fatalf("failed attach must not register anything")
	}
}

func TestKeyboardAdapter_NoMatches(t *testing.T) {
	kbd := &KeyboardAdapter{
		Devices: []string{filepath.Join(t.TempDir(), "*-event-kbd")},
		Logger:  discardLogger(),
	}
	if err := kbd.Attach(&Registrar{}, &fakeSink{}); err == nil {
		t.Fatalf("expected an error when the glob matches nothing")
	}
}

func TestKeyboardAdapter_GrabFailureIsNoted(t *testing.T) {
	rf, _ := newTestPipe(t)

	kbd := &KeyboardAdapter{
		Devices: []string{"/dev/input/event-test"},
		Grab:    true,
		Logger:  discardLogger(),
		open:    func(string) (*os.File, error) { return rf, nil },
	}
	sink := &fakeSink{}
	reg := &Registrar{}
	defer reg.Teardown()

	// EVIOCGRAB on a pipe fails; the device is still read.
	if err := kbd.Attach(reg, sink); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !sink.hasNote("cannot grab /dev/input/event-test") {
		t.Fatalf("expected grab failure note, got %v", sink.Notes())
	}
}
