package audio

import (
	"math"
	"testing"
	"time"
)

func TestRMS_Empty(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]byte{0x01}); got != 0 {
		t.Errorf("RMS(odd byte) = %v, want 0", got)
	}
}

func TestRMS_Silence(t *testing.T) {
	pcm := make([]byte, 960*2)
	if got := RMS(pcm); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
}

func TestRMS_FullScale(t *testing.T) {
	// A constant full-scale negative signal has RMS = 1.0 exactly
	// (-32768/32768).
	pcm := make([]int16, 480)
	for i := range pcm {
		pcm[i] = -32768
	}
	got := RMS(Int16sToBytes(pcm))
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("RMS(full scale) = %v, want 1.0", got)
	}
}

func TestRMS_SquareWave(t *testing.T) {
	// A ±16384 square wave has RMS = 0.5.
	pcm := make([]int16, 480)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 16384
		} else {
			pcm[i] = -16384
		}
	}
	got := RMS(Int16sToBytes(pcm))
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(square wave) = %v, want 0.5", got)
	}
}

func TestRMS_MatchesInt16Form(t *testing.T) {
	pcm := []int16{0, 100, -200, 3000, -32768, 32767}
	a := RMS(Int16sToBytes(pcm))
	b := RMSInt16(pcm)
	if math.Abs(a-b) > 1e-12 {
		t.Errorf("RMS = %v, RMSInt16 = %v — forms disagree", a, b)
	}
}

func TestFrame_Duration(t *testing.T) {
	f := Frame{
		Data:       make([]byte, 960*2),
		SampleRate: 48000,
		Channels:   1,
	}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration() = %v, want 20ms", got)
	}
	if got := f.Samples(); got != 960 {
		t.Errorf("Samples() = %d, want 960", got)
	}

	var zero Frame
	if got := zero.Duration(); got != 0 {
		t.Errorf("zero frame Duration() = %v, want 0", got)
	}
}

func TestStereoToMono(t *testing.T) {
	stereo := Int16sToBytes([]int16{100, 200, -50, 50})
	mono := BytesToInt16s(StereoToMono(stereo))
	want := []int16{150, 0}
	if len(mono) != len(want) {
		t.Fatalf("len = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("mono[%d] = %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestResampleMono16_Identity(t *testing.T) {
	in := Int16sToBytes([]int16{1, 2, 3, 4})
	out := ResampleMono16(in, 48000, 48000)
	if len(out) != len(in) {
		t.Fatalf("identity resample changed length: %d -> %d", len(in), len(out))
	}
}

func TestResampleMono16_Halving(t *testing.T) {
	in := make([]int16, 960)
	out := BytesToInt16s(ResampleMono16(Int16sToBytes(in), 48000, 24000))
	if len(out) != 480 {
		t.Errorf("48k->24k of 960 samples: got %d, want 480", len(out))
	}
}
