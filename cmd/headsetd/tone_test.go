package main

import (
	"math"
	"testing"
	"time"
)

func TestToneParams_DefaultsValid(t *testing.T) {
	if err := DefaultToneParams().Validate(); err != nil {
		t.Fatalf("default tone params invalid: %v", err)
	}
}

func TestToneParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ToneParams)
	}{
		{"zero frequency", func(p *ToneParams) { p.FrequencyHz = 0 }},
		{"gain above one", func(p *ToneParams) { p.Gain = 1.5 }},
		{"floor above gain", func(p *ToneParams) { p.FloorGain = p.Gain }},
		{"zero duration", func(p *ToneParams) { p.Duration = 0 }},
		{"release shorter than duration", func(p *ToneParams) { p.Release = p.Duration - time.Millisecond }},
		{"zero sample rate", func(p *ToneParams) { p.SampleRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultToneParams()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestToneParams_Envelope(t *testing.T) {
	p := DefaultToneParams()

	if got := p.envelope(0); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("envelope(0) = %v, want 0.3", got)
	}
	if got := p.envelope(1.0); got <= p.FloorGain || got >= p.Gain {
		t.Fatalf("envelope(1s) = %v, want between floor and start gain", got)
	}
	if got := p.envelope(p.Duration.Seconds() - 1e-6); math.Abs(got-p.FloorGain) > 1e-4 {
		t.Fatalf("envelope near duration = %v, want ~%v", got, p.FloorGain)
	}
	if got := p.envelope(p.Duration.Seconds()); got != 0 {
		t.Fatalf("envelope at duration = %v, want 0", got)
	}
	if got := p.envelope(2.5); got != 0 {
		t.Fatalf("envelope after duration = %v, want 0", got)
	}
}

func TestToneStreamer_EndsAfterRelease(t *testing.T) {
	p := DefaultToneParams()
	p.SampleRate = 1000
	s := newToneStreamer(p)

	buf := make([][2]float64, 512)
	total := 0
	for i := 0; i < 100; i++ {
		n, ok := s.Stream(buf)
		total += n
		if !ok {
			break
		}
		for _, smp := range buf[:n] {
			if smp[0] != smp[1] {
				t.Fatalf("channels differ: %v", smp)
			}
			if math.Abs(smp[0]) > p.Gain {
				t.Fatalf("sample %v exceeds start gain", smp[0])
			}
		}
	}

	want := int(p.Release.Seconds() * float64(p.SampleRate))
	if total != want {
		t.Fatalf("streamed %d samples, want %d", total, want)
	}
	if n, ok := s.Stream(buf); n != 0 || ok {
		t.Fatalf("exhausted streamer returned (%d, %v)", n, ok)
	}
	if s.Err() != nil {
		t.Fatalf("unexpected streamer error: %v", s.Err())
	}
}

func TestNopTone(t *testing.T) {
	if err := (nopTone{}).Play(); err != nil {
		t.Fatalf("nopTone.Play: %v", err)
	}
}
