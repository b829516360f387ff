package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxwire/pkg/audio"
)

func TestFormat_FrameDuration(t *testing.T) {
	tests := []struct {
		name   string
		format audio.Format
		want   time.Duration
	}{
		{"10ms at 48kHz", audio.Format{SampleRate: 48000, Channels: 1, FrameSize: 480}, 10 * time.Millisecond},
		{"20ms at 24kHz", audio.Format{SampleRate: 24000, Channels: 1, FrameSize: 480}, 20 * time.Millisecond},
		{"zero rate", audio.Format{SampleRate: 0, Channels: 1, FrameSize: 480}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.FrameDuration(); got != tt.want {
				t.Errorf("FrameDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormat_Validate(t *testing.T) {
	valid := audio.Format{SampleRate: 48000, Channels: 1, FrameSize: 480}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() on valid format = %v, want nil", err)
	}

	invalid := audio.Format{SampleRate: -1, Channels: 5, FrameSize: 0}
	if err := invalid.Validate(); err == nil {
		t.Error("Validate() on invalid format = nil, want error")
	}
}

func TestSilence(t *testing.T) {
	f := audio.Format{SampleRate: 48000, Channels: 2, FrameSize: 480}
	fr := audio.Silence(f)
	if len(fr.Samples) != 960 {
		t.Fatalf("Silence sample count = %d, want 960", len(fr.Samples))
	}
	if !audio.IsSilence(fr) {
		t.Error("IsSilence(Silence(f)) = false, want true")
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS([]int16{0, 0, 0}); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
	// Full-scale square wave has RMS very close to 1.
	got := audio.RMS([]int16{32767, -32767, 32767, -32767})
	if got < 0.99 || got > 1.0 {
		t.Errorf("RMS(full-scale square) = %v, want ~1.0", got)
	}
	// A quieter signal must have a lower RMS.
	quiet := audio.RMS([]int16{1000, -1000, 1000, -1000})
	if quiet >= got {
		t.Errorf("RMS(quiet) = %v, want < %v", quiet, got)
	}
}
