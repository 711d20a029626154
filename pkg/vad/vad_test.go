package vad

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for driving the silence timer.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                 { return c.now }
func (c *fakeClock) Advance(d time.Duration)        { c.now = c.now.Add(d) }

func newTestDetector(clk *fakeClock) *Detector {
	return New(Config{Now: clk.Now})
}

// voicedBlock has RMS 0.1, above the default energy threshold.
func voicedBlock() []float32 {
	b := make([]float32, 4096)
	for i := range b {
		b[i] = 0.1
	}
	return b
}

// voicedSpectrum puts magnitude 100 into the voice band.
func voicedSpectrum() []float64 {
	m := make([]float64, 1024)
	for i := DefaultBandLow; i < DefaultBandHigh; i++ {
		m[i] = 100
	}
	return m
}

func silentBlock() []float32    { return make([]float32, 4096) }
func silentSpectrum() []float64 { return make([]float64, 1024) }

func TestVoiceStartIsEdgeTriggered(t *testing.T) {
	clk := &fakeClock{}
	d := newTestDetector(clk)

	events := d.Process(voicedBlock(), voicedSpectrum())
	if len(events) != 1 || events[0].Type != VoiceStart {
		t.Fatalf("first voiced tick: got %v, want one VoiceStart", events)
	}
	if !d.Active() {
		t.Error("detector not active after VoiceStart")
	}

	// Continued voice must not re-emit.
	for i := 0; i < 5; i++ {
		if events := d.Process(voicedBlock(), voicedSpectrum()); len(events) != 0 {
			t.Fatalf("sustained voice tick %d emitted %v", i, events)
		}
	}
}

func TestDetectionIsConjunctive(t *testing.T) {
	clk := &fakeClock{}

	// Energy alone: loud block, empty spectrum.
	d := newTestDetector(clk)
	if events := d.Process(voicedBlock(), silentSpectrum()); len(events) != 0 {
		t.Errorf("energy-only tick emitted %v, want none", events)
	}

	// Band alone: silent block, voiced spectrum.
	d = newTestDetector(clk)
	if events := d.Process(silentBlock(), voicedSpectrum()); len(events) != 0 {
		t.Errorf("band-only tick emitted %v, want none", events)
	}
}

func TestSilenceTimeoutFiresOnce(t *testing.T) {
	clk := &fakeClock{}
	d := newTestDetector(clk)

	d.Process(voicedBlock(), voicedSpectrum())

	events := d.Process(silentBlock(), silentSpectrum())
	if len(events) != 1 || events[0].Type != VoiceStop {
		t.Fatalf("first silent tick: got %v, want one VoiceStop", events)
	}

	// Just short of the timeout: nothing yet.
	clk.Advance(1400 * time.Millisecond)
	if events := d.Process(silentBlock(), silentSpectrum()); len(events) != 0 {
		t.Fatalf("pre-timeout tick emitted %v", events)
	}

	clk.Advance(100 * time.Millisecond)
	events = d.Process(silentBlock(), silentSpectrum())
	if len(events) != 1 || events[0].Type != SilenceTimeout {
		t.Fatalf("timeout tick: got %v, want one SilenceTimeout", events)
	}

	// Further ticks, silent or voiced, must emit nothing until Reset.
	clk.Advance(5 * time.Second)
	if events := d.Process(silentBlock(), silentSpectrum()); len(events) != 0 {
		t.Errorf("post-timeout silent tick emitted %v", events)
	}
	if events := d.Process(voicedBlock(), voicedSpectrum()); len(events) != 0 {
		t.Errorf("post-timeout voiced tick emitted %v", events)
	}
}

func TestVoiceResumptionDisarmsTimer(t *testing.T) {
	clk := &fakeClock{}
	d := newTestDetector(clk)

	d.Process(voicedBlock(), voicedSpectrum())
	d.Process(silentBlock(), silentSpectrum()) // VoiceStop, timer armed

	// Speech resumes 1s in; the pending timer must be discarded.
	clk.Advance(time.Second)
	events := d.Process(voicedBlock(), voicedSpectrum())
	if len(events) != 1 || events[0].Type != VoiceStart {
		t.Fatalf("resumption tick: got %v, want one VoiceStart", events)
	}

	// A fresh silence period restarts the full window.
	d.Process(silentBlock(), silentSpectrum())
	clk.Advance(1400 * time.Millisecond)
	if events := d.Process(silentBlock(), silentSpectrum()); len(events) != 0 {
		t.Fatalf("old timer leaked through: %v", events)
	}
	clk.Advance(100 * time.Millisecond)
	events = d.Process(silentBlock(), silentSpectrum())
	if len(events) != 1 || events[0].Type != SilenceTimeout {
		t.Fatalf("got %v, want one SilenceTimeout after full fresh window", events)
	}
}

func TestSilenceBeforeAnyVoiceDoesNotTimeout(t *testing.T) {
	clk := &fakeClock{}
	d := newTestDetector(clk)

	for i := 0; i < 50; i++ {
		clk.Advance(100 * time.Millisecond)
		if events := d.Process(silentBlock(), silentSpectrum()); len(events) != 0 {
			t.Fatalf("initial-silence tick %d emitted %v", i, events)
		}
	}
}

func TestResetRearmsDetector(t *testing.T) {
	clk := &fakeClock{}
	d := newTestDetector(clk)

	d.Process(voicedBlock(), voicedSpectrum())
	d.Process(silentBlock(), silentSpectrum())
	clk.Advance(2 * time.Second)
	d.Process(silentBlock(), silentSpectrum()) // SilenceTimeout

	d.Reset()

	events := d.Process(voicedBlock(), voicedSpectrum())
	if len(events) != 1 || events[0].Type != VoiceStart {
		t.Fatalf("post-Reset voiced tick: got %v, want one VoiceStart", events)
	}
	d.Process(silentBlock(), silentSpectrum())
	clk.Advance(DefaultSilenceDuration)
	events = d.Process(silentBlock(), silentSpectrum())
	if len(events) != 1 || events[0].Type != SilenceTimeout {
		t.Fatalf("post-Reset timeout: got %v, want one SilenceTimeout", events)
	}
}

func TestEventCarriesMeasurements(t *testing.T) {
	clk := &fakeClock{}
	d := newTestDetector(clk)

	events := d.Process(voicedBlock(), voicedSpectrum())
	if len(events) != 1 {
		t.Fatal("expected one event")
	}
	e := events[0]
	if e.RMS <= DefaultEnergyThreshold {
		t.Errorf("event RMS %v not above threshold", e.RMS)
	}
	if e.BandMean != 100 {
		t.Errorf("event band mean %v, want 100", e.BandMean)
	}
}

func TestEventTypeString(t *testing.T) {
	if VoiceStart.String() != "voice_start" || SilenceTimeout.String() != "silence_timeout" {
		t.Error("unexpected event type names")
	}
}
