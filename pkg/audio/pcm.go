package audio

import (
	"encoding/binary"
	"math"
)

// FloatToPCM16 converts float32 samples in [-1, 1] to 16-bit PCM. Values
// outside the range are clamped. Positive samples scale by 32767 and negative
// samples by 32768 so that both -1 and +1 map onto representable values.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// PCM16ToFloat converts 16-bit PCM samples to float32 in [-1, 1), dividing by
// 32768. The inverse of [FloatToPCM16] up to quantisation.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Decimate downsamples mono float32 samples from fromRate to toRate by
// nearest-neighbor index mapping: output sample i copies input sample
// floor(i*fromRate/toRate). The output has floor(len*toRate/fromRate)
// samples. No band-limiting filter is applied; for speech captured at typical
// device rates and decimated to 16 kHz the aliasing is acceptable and the
// cost is a single pass. If fromRate == toRate the input is returned as-is.
func Decimate(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		return samples
	}
	n := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		src := int(float64(i) * ratio)
		if src >= len(samples) {
			src = len(samples) - 1
		}
		out[i] = samples[src]
	}
	return out
}

// ResampleLinear resamples mono float32 samples from fromRate to toRate using
// linear interpolation. Used on the playback path where upsampling to the
// device rate must not introduce stairstep artifacts. If fromRate == toRate
// the input is returned unchanged.
func ResampleLinear(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) < 2 {
		return samples
	}
	n := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0 + float32(frac)*(s1-s0)
	}
	return out
}

// PCM16ToBytes encodes int16 samples as little-endian bytes, 2 bytes per
// sample. Used at the device boundary.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 decodes little-endian int16 PCM bytes. A trailing odd byte is
// ignored.
func BytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// DecodeFloat32LE decodes little-endian IEEE-754 float32 samples, 4 bytes per
// sample. This is the wire format of synthesised audio from the backend.
// Trailing bytes that do not form a full sample are ignored.
func DecodeFloat32LE(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// EncodeFloat32LE encodes float32 samples as little-endian bytes. The inverse
// of [DecodeFloat32LE]; used by tests and the file replay source.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
