// Package vad implements the dual-criterion voice activity detector used to
// find the end of a candidate's answer.
//
// A tick is classified as voiced only when both the time-domain RMS energy
// and the mean byte-scaled magnitude of the low-frequency voice band exceed
// their thresholds. Transitions are edge-triggered: the detector emits
// VoiceStart and VoiceStop events on state changes and a single
// SilenceTimeout once silence has persisted for the configured duration.
package vad

import (
	"fmt"
	"time"

	"github.com/intervox/intervox/pkg/audio"
)

// Defaults for the detection parameters. The energy threshold matches a
// normal speaking voice on a consumer microphone; the band threshold is on
// the 0..255 byte magnitude scale.
const (
	DefaultEnergyThreshold = 0.04
	DefaultBandThreshold   = 40.0
	DefaultSilenceDuration = 1500 * time.Millisecond
	DefaultBandLow         = 2
	DefaultBandHigh        = 50
)

// EventType identifies a detector transition.
type EventType int

const (
	// VoiceStart marks the first voiced tick after silence.
	VoiceStart EventType = iota

	// VoiceStop marks the first silent tick after voice; it arms the
	// silence timer.
	VoiceStop

	// SilenceTimeout fires once when silence has persisted for the full
	// configured duration. The detector then disarms until Reset.
	SilenceTimeout
)

// String returns the event type name for logs.
func (t EventType) String() string {
	switch t {
	case VoiceStart:
		return "voice_start"
	case VoiceStop:
		return "voice_stop"
	case SilenceTimeout:
		return "silence_timeout"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is a single detector transition with the measurements that caused it.
type Event struct {
	Type     EventType
	RMS      float64
	BandMean float64
}

// Config tunes a Detector. Zero values select the package defaults.
type Config struct {
	// EnergyThreshold is the minimum block RMS for a voiced tick.
	EnergyThreshold float64

	// BandThreshold is the minimum mean byte magnitude of the voice band
	// for a voiced tick.
	BandThreshold float64

	// SilenceDuration is how long silence must persist after VoiceStop
	// before SilenceTimeout fires.
	SilenceDuration time.Duration

	// BandLow and BandHigh bound the voice band as a half-open bin range
	// [BandLow, BandHigh) into the magnitude spectrum.
	BandLow, BandHigh int

	// Now is the clock; defaults to time.Now. Injected in tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.EnergyThreshold == 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.BandThreshold == 0 {
		c.BandThreshold = DefaultBandThreshold
	}
	if c.SilenceDuration == 0 {
		c.SilenceDuration = DefaultSilenceDuration
	}
	if c.BandHigh == 0 {
		c.BandLow = DefaultBandLow
		c.BandHigh = DefaultBandHigh
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Detector tracks voice activity across ticks. Not safe for concurrent use;
// the capture pipeline drives it from its single owner goroutine.
type Detector struct {
	cfg Config

	voiced       bool
	silenceSince time.Time
	armed        bool // silence timer running
	timedOut     bool
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{cfg: cfg}
}

// Active reports whether the last processed tick was classified as voiced.
func (d *Detector) Active() bool { return d.voiced }

// Process classifies one tick from a block of time-domain samples and the
// current byte-scaled magnitude spectrum, returning any events the tick
// produced (at most a transition event plus, never in the same tick, a
// timeout). After SilenceTimeout has fired, Process returns nil until Reset.
func (d *Detector) Process(block []float32, magnitudes []float64) []Event {
	if d.timedOut {
		return nil
	}

	rms := audio.RMS(block)
	band := bandMean(magnitudes, d.cfg.BandLow, d.cfg.BandHigh)
	voiced := rms > d.cfg.EnergyThreshold && band > d.cfg.BandThreshold
	now := d.cfg.Now()

	var events []Event

	switch {
	case voiced && !d.voiced:
		d.voiced = true
		d.armed = false
		events = append(events, Event{Type: VoiceStart, RMS: rms, BandMean: band})

	case !voiced && d.voiced:
		d.voiced = false
		d.armed = true
		d.silenceSince = now
		events = append(events, Event{Type: VoiceStop, RMS: rms, BandMean: band})

	case !voiced && d.armed:
		if now.Sub(d.silenceSince) >= d.cfg.SilenceDuration {
			d.armed = false
			d.timedOut = true
			events = append(events, Event{Type: SilenceTimeout, RMS: rms, BandMean: band})
		}
	}

	return events
}

// Reset returns the detector to its initial state so it can arm again for
// the next recording.
func (d *Detector) Reset() {
	d.voiced = false
	d.armed = false
	d.timedOut = false
	d.silenceSince = time.Time{}
}

// bandMean averages the half-open bin range [low, high), clipped to the
// spectrum length. Returns 0 for an empty range.
func bandMean(magnitudes []float64, low, high int) float64 {
	if low < 0 {
		low = 0
	}
	if high > len(magnitudes) {
		high = len(magnitudes)
	}
	if low >= high {
		return 0
	}
	var sum float64
	for _, m := range magnitudes[low:high] {
		sum += m
	}
	return sum / float64(high-low)
}
