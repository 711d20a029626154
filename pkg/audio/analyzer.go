package audio

import (
	"fmt"
	"math"
)

// Byte-scale conversion range in dBFS. Magnitudes at or below minDecibels map
// to 0 and magnitudes at or above maxDecibels map to 255, matching the scale
// the voice-band threshold was tuned against.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Analyzer computes a smoothed magnitude spectrum over a sliding window of
// the most recent samples. The spectrum is byte-scaled to 0..255 per bin.
//
// Feed it capture blocks with [Analyzer.Push], then read the current spectrum
// with [Analyzer.ByteMagnitudes]. Not safe for concurrent use; the capture
// pipeline owns one per recording.
type Analyzer struct {
	size      int
	smoothing float64

	window  []float32 // last size samples, oldest first
	filled  int
	taper   []float64 // precomputed Blackman coefficients
	re, im  []float64 // FFT scratch
	smooth  []float64 // exponentially smoothed linear magnitudes
	primed  bool
}

// NewAnalyzer creates an Analyzer with the given FFT window size (a power of
// two) and smoothing factor in [0, 1). A smoothing of 0.8 means each new
// spectrum contributes 20% to the reported value.
func NewAnalyzer(size int, smoothing float64) (*Analyzer, error) {
	if size < 2 || size&(size-1) != 0 {
		return nil, fmt.Errorf("audio: analyzer window size %d is not a power of two", size)
	}
	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("audio: analyzer smoothing %v out of range [0, 1)", smoothing)
	}

	a := &Analyzer{
		size:      size,
		smoothing: smoothing,
		window:    make([]float32, size),
		taper:     make([]float64, size),
		re:        make([]float64, size),
		im:        make([]float64, size),
		smooth:    make([]float64, size/2),
	}
	// Blackman window, the standard analysis taper for speech spectra.
	for n := range a.taper {
		x := 2 * math.Pi * float64(n) / float64(size)
		a.taper[n] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return a, nil
}

// Bins returns the number of frequency bins (window size / 2).
func (a *Analyzer) Bins() int { return a.size / 2 }

// Push slides the analysis window forward by the given samples.
func (a *Analyzer) Push(samples []float32) {
	for len(samples) >= a.size {
		copy(a.window, samples[:a.size])
		samples = samples[a.size:]
		a.filled = a.size
	}
	if len(samples) == 0 {
		return
	}
	if a.filled+len(samples) <= a.size {
		copy(a.window[a.filled:], samples)
		a.filled += len(samples)
		return
	}
	keep := a.size - len(samples)
	copy(a.window, a.window[a.filled-keep:a.filled])
	copy(a.window[keep:], samples)
	a.filled = a.size
}

// ByteMagnitudes computes the current byte-scaled magnitude spectrum into
// dst, which is grown as needed and returned. Each of the size/2 bins holds a
// value in [0, 255]: the windowed FFT magnitude, exponentially smoothed
// across calls, converted to dBFS and mapped linearly from
// [minDecibels, maxDecibels] onto [0, 255].
func (a *Analyzer) ByteMagnitudes(dst []float64) []float64 {
	bins := a.size / 2
	if cap(dst) < bins {
		dst = make([]float64, bins)
	}
	dst = dst[:bins]

	for i := range a.re {
		if i < a.filled {
			a.re[i] = float64(a.window[i]) * a.taper[i]
		} else {
			a.re[i] = 0
		}
		a.im[i] = 0
	}
	fft(a.re, a.im)

	norm := 1 / float64(a.size)
	for i := 0; i < bins; i++ {
		mag := math.Hypot(a.re[i], a.im[i]) * norm
		if a.primed {
			a.smooth[i] = a.smoothing*a.smooth[i] + (1-a.smoothing)*mag
		} else {
			a.smooth[i] = mag
		}

		db := -math.MaxFloat64
		if a.smooth[i] > 0 {
			db = 20 * math.Log10(a.smooth[i])
		}
		scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
		if scaled < 0 {
			scaled = 0
		} else if scaled > 255 {
			scaled = 255
		}
		dst[i] = scaled
	}
	a.primed = true
	return dst
}

// Reset clears the window and smoothing state so the next recording starts
// from silence.
func (a *Analyzer) Reset() {
	a.filled = 0
	a.primed = false
	for i := range a.smooth {
		a.smooth[i] = 0
	}
}

// RMS returns the root-mean-square level of the given samples. The VAD uses
// this as its time-domain energy measure, computed per capture block rather
// than over the analysis window.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// fft performs an in-place radix-2 Cooley-Tukey FFT.
// real and imag must have the same power-of-2 length.
func fft(real, imag []float64) {
	n := len(real)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation
	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			real[i], real[j] = real[j], real[i]
			imag[i], imag[j] = imag[j], imag[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	// Cooley-Tukey butterfly
	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		angle := -2.0 * math.Pi / float64(size)
		wR := math.Cos(angle)
		wI := math.Sin(angle)

		for start := 0; start < n; start += size {
			tR, tI := 1.0, 0.0
			for k := 0; k < half; k++ {
				u := start + k
				v := u + half

				tmpR := tR*real[v] - tI*imag[v]
				tmpI := tR*imag[v] + tI*real[v]

				real[v] = real[u] - tmpR
				imag[v] = imag[u] - tmpI
				real[u] += tmpR
				imag[u] += tmpI

				tR, tI = tR*wR-tI*wI, tR*wI+tI*wR
			}
		}
	}
}
