package main

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// decodeInputEvents parses every whole event in buf. Trailing partial bytes are
// ignored.
func decodeInputEvents(buf []byte, out []inputEvent) []inputEvent {
	reader := bytes.NewReader(nil)
	for len(buf) >= inputEventSize {
		reader.Reset(buf[:inputEventSize])
		buf = buf[inputEventSize:]

		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}
		out = append(out, ev)
	}
	return out
}

// namedMediaKeys maps the semantic media key codes to the names reported in
// source labels.
var namedMediaKeys = map[uint16]string{
	KEY_PLAYPAUSE:    "MediaPlayPause",
	KEY_PLAYCD:       "MediaPlay",
	KEY_PAUSECD:      "MediaPause",
	KEY_STOPCD:       "MediaStop",
	KEY_NEXTSONG:     "MediaNextTrack",
	KEY_PREVIOUSSONG: "MediaPreviousTrack",
}

// fallbackMediaCodes are raw codes accepted even though they carry no semantic
// name; their label is the decimal code.
var fallbackMediaCodes = map[uint16]bool{
	KEY_MEDIA:       true,
	KEY_PLAY:        true,
	KEY_STOP:        true,
	KEY_FASTFORWARD: true,
	KEY_REWIND:      true,
}

// matchMediaKey reports whether ev is a press of an allowed media key and returns
// its label. Releases and autorepeat are not presses.
func matchMediaKey(ev inputEvent) (label string, ok bool) {
	if ev.Type != EV_KEY || ev.Value != evValuePress {
		return "", false
	}
	if name, ok := namedMediaKeys[ev.Code]; ok {
		return name, true
	}
	if fallbackMediaCodes[ev.Code] {
		return strconv.Itoa(int(ev.Code)), true
	}
	return "", false
}
