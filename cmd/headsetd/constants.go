package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	// Named media keys. These are what headsets and media keyboards usually send.
	KEY_NEXTSONG     = 163
	KEY_PLAYPAUSE    = 164
	KEY_PREVIOUSSONG = 165
	KEY_STOPCD       = 166
	KEY_PLAYCD       = 200
	KEY_PAUSECD      = 201

	// Fallback codes some Bluetooth (AVRCP) and USB HID stacks emit instead.
	KEY_STOP        = 128
	KEY_REWIND      = 168
	KEY_PLAY        = 207
	KEY_FASTFORWARD = 208
	KEY_MEDIA       = 226
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// EVIOCGRAB = _IOW('E', 0x90, int)
const eviocgrab = 0x40044590

const (
	// defaultDebounceMS is the minimum spacing between two accepted presses.
	defaultDebounceMS = 500

	// debugLogCapacity is fixed; the log is a short rolling window, not history.
	debugLogCapacity = 10

	defaultToneFrequencyHz = 200.0
	defaultToneGain        = 0.3
	defaultToneFloorGain   = 0.01
	defaultToneDurationMS  = 2000
	defaultToneReleaseMS   = 3000
	defaultToneSampleRate  = 44100

	defaultEventQueueSize = 64
	snapshotWaitTimeout   = 1 * time.Second
)

// Source labels for adapters that do not derive them from a raw code.
const (
	manualTriggerSource   = "manual-trigger"
	keydownSourcePrefix   = "keydown-"
	transportSourcePrefix = "transport-"
	unknownSource         = "unknown"
)
