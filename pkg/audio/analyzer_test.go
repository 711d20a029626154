package audio

import (
	"math"
	"testing"
)

// sine generates n samples of a sine wave at freq Hz sampled at rate Hz.
func sine(n int, freq, amplitude float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestNewAnalyzerRejectsBadSize(t *testing.T) {
	if _, err := NewAnalyzer(1000, 0.8); err == nil {
		t.Error("expected error for non-power-of-two window size")
	}
	if _, err := NewAnalyzer(2048, 1.0); err == nil {
		t.Error("expected error for smoothing of 1.0")
	}
}

func TestAnalyzerSilenceIsZero(t *testing.T) {
	a, err := NewAnalyzer(2048, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	a.Push(make([]float32, 4096))

	mags := a.ByteMagnitudes(nil)
	if len(mags) != 1024 {
		t.Fatalf("got %d bins, want 1024", len(mags))
	}
	for i, m := range mags {
		if m != 0 {
			t.Fatalf("bin %d: got %v for silence, want 0", i, m)
		}
	}
}

func TestAnalyzerTonePeaksInExpectedBin(t *testing.T) {
	const rate = 16000
	a, err := NewAnalyzer(2048, 0)
	if err != nil {
		t.Fatal(err)
	}

	// 250 Hz at 16 kHz with a 2048-point window lands in bin 32.
	a.Push(sine(2048, 250, 0.5, rate))
	mags := a.ByteMagnitudes(nil)

	peak := 0
	for i, m := range mags {
		if m > mags[peak] {
			peak = i
		}
	}
	wantBin := 250 * 2048 / rate
	if peak < wantBin-1 || peak > wantBin+1 {
		t.Errorf("spectrum peak in bin %d, want near %d", peak, wantBin)
	}
	if mags[wantBin] < 40 {
		t.Errorf("tone bin magnitude %v, want above the voice-band threshold", mags[wantBin])
	}
}

func TestAnalyzerSmoothingDecays(t *testing.T) {
	const rate = 16000
	a, err := NewAnalyzer(2048, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	bin := 250 * 2048 / rate

	// Quiet enough that the byte scale does not saturate at 255.
	a.Push(sine(2048, 250, 0.003, rate))
	loud := a.ByteMagnitudes(nil)[bin]
	if loud <= 0 || loud >= 255 {
		t.Fatalf("tone magnitude %v saturated the byte scale", loud)
	}

	// Tone stops; the smoothed magnitude must fall gradually, not snap to 0.
	a.Push(make([]float32, 2048))
	after := a.ByteMagnitudes(nil)[bin]

	if after >= loud {
		t.Errorf("magnitude did not decay after silence: %v -> %v", loud, after)
	}
	if after == 0 {
		t.Errorf("magnitude snapped to zero; smoothing should decay it gradually")
	}
}

func TestAnalyzerResetClearsState(t *testing.T) {
	a, err := NewAnalyzer(2048, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	a.Push(sine(2048, 250, 0.5, 16000))
	a.ByteMagnitudes(nil)

	a.Reset()
	mags := a.ByteMagnitudes(nil)
	for i, m := range mags {
		if m != 0 {
			t.Fatalf("bin %d: got %v after Reset, want 0", i, m)
		}
	}
}

func TestAnalyzerPartialWindow(t *testing.T) {
	a, err := NewAnalyzer(2048, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Fewer samples than the window: remaining slots are zero-padded.
	a.Push(sine(512, 250, 0.5, 16000))
	mags := a.ByteMagnitudes(nil)
	if len(mags) != 1024 {
		t.Fatalf("got %d bins, want 1024", len(mags))
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS of ±0.5 square = %v, want 0.5", got)
	}

	// A full-scale sine has RMS 1/√2.
	got := RMS(sine(16000, 440, 1.0, 16000))
	if math.Abs(got-1/math.Sqrt2) > 0.01 {
		t.Errorf("RMS of unit sine = %v, want ~%v", got, 1/math.Sqrt2)
	}
}
