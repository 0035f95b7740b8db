package main

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// Tone is audible confirmation of an accepted press. Play must return quickly;
// playback continues in the background.
type Tone interface {
	Play() error
}

// ToneParams shapes the confirmation tone.
type ToneParams struct {
	FrequencyHz float64
	Gain        float64       // starting gain
	FloorGain   float64       // gain reached at Duration
	Duration    time.Duration // audible part
	Release     time.Duration // streamer length; silence after Duration
	SampleRate  int
}

// DefaultToneParams returns a 200 Hz sine decaying from 0.3 to 0.01 over 2s.
func DefaultToneParams() ToneParams {
	return ToneParams{
		FrequencyHz: defaultToneFrequencyHz,
		Gain:        defaultToneGain,
		FloorGain:   defaultToneFloorGain,
		Duration:    defaultToneDurationMS * time.Millisecond,
		Release:     defaultToneReleaseMS * time.Millisecond,
		SampleRate:  defaultToneSampleRate,
	}
}

// Validate checks the parameters can produce a decaying tone.
func (p ToneParams) Validate() error {
	if p.FrequencyHz <= 0 {
		return fmt.Errorf("frequency_hz must be > 0 (got %v)", p.FrequencyHz)
	}
	if p.Gain <= 0 || p.Gain > 1 {
		return fmt.Errorf("gain must be in (0, 1] (got %v)", p.Gain)
	}
	if p.FloorGain <= 0 || p.FloorGain >= p.Gain {
		return fmt.Errorf("floor_gain must be in (0, gain) (got %v)", p.FloorGain)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("duration must be > 0 (got %v)", p.Duration)
	}
	if p.Release < p.Duration {
		return fmt.Errorf("release (%v) must not be shorter than duration (%v)", p.Release, p.Duration)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be > 0 (got %d)", p.SampleRate)
	}
	return nil
}

// envelope returns the gain at offset t: exponential from Gain down to FloorGain
// at Duration, then zero.
func (p ToneParams) envelope(t float64) float64 {
	dur := p.Duration.Seconds()
	if t < 0 || t >= dur {
		return 0
	}
	k := math.Log(p.Gain/p.FloorGain) / dur
	return p.Gain * math.Exp(-k*t)
}

// sample returns the mono sample at offset t.
func (p ToneParams) sample(t float64) float64 {
	return p.envelope(t) * math.Sin(2*math.Pi*p.FrequencyHz*t)
}

// ============================================================================
// Speaker-backed tone
// ============================================================================

// beepTone plays through the shared speaker mixer. Every Play adds an independent
// streamer, so overlapping tones mix.
type beepTone struct {
	params ToneParams

	initOnce sync.Once
	initErr  error
}

func newBeepTone(params ToneParams) *beepTone {
	return &beepTone{params: params}
}

func (b *beepTone) init() error {
	b.initOnce.Do(func() {
		sr := beep.SampleRate(b.params.SampleRate)
		if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
			b.initErr = fmt.Errorf("audio output unavailable: %w", err)
		}
	})
	return b.initErr
}

func (b *beepTone) Play() error {
	if err := b.init(); err != nil {
		return err
	}
	speaker.Play(newToneStreamer(b.params))
	return nil
}

// toneStreamer renders one tone and ends after Release samples, at which point the
// mixer drops it.
type toneStreamer struct {
	params ToneParams
	pos    int
	total  int
}

func newToneStreamer(p ToneParams) *toneStreamer {
	sr := beep.SampleRate(p.SampleRate)
	return &toneStreamer{params: p, total: sr.N(p.Release)}
}

func (s *toneStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.pos >= s.total {
		return 0, false
	}
	rate := float64(s.params.SampleRate)
	for i := range samples {
		if s.pos >= s.total {
			return i, true
		}
		v := s.params.sample(float64(s.pos) / rate)
		samples[i][0] = v
		samples[i][1] = v
		s.pos++
		n++
	}
	return n, true
}

func (s *toneStreamer) Err() error { return nil }

// nopTone is used when tone.enabled is false.
type nopTone struct{}

func (nopTone) Play() error { return nil }
