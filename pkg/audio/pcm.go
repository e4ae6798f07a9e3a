// Package audio provides PCM sample manipulation shared by the capture,
// suppression, and transcription stages: gain with saturating clamp, int16 ↔
// byte ↔ float conversion, RMS energy, channel downmix, and resampling.
//
// All functions operate on plain sample slices and allocate their result;
// none mutates its input. Frame-level types live in [pkg/types].
package audio

import "math"

// ApplyGain scales every sample by gain and clamps the result to the 16-bit
// signed range [-32768, 32767]. The arithmetic is saturating, never wrapping:
// an amplified sample that exceeds the range sticks at the boundary.
func ApplyGain(samples []int16, gain float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = Saturate16(float64(s) * gain)
	}
	return out
}

// Saturate16 rounds v to the nearest integer and clamps it to int16 range.
func Saturate16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Float32Samples converts int16 PCM to float32 in [-1.0, 1.0) by dividing by
// 32768.0. This is the normalisation contract expected by float-input speech
// models: -32768 maps to exactly -1.0 and 32767 to just under 1.0.
func Float32Samples(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// BytesToSamples reinterprets little-endian 16-bit PCM bytes as samples.
// A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// RMS returns the root-mean-square energy of the samples in raw sample units
// (0 for an empty slice). Used as the silence heuristic for adaptive noise
// estimation: speech at normal wearable mic distance sits well above an RMS
// of a few hundred, ambient room noise well below.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// StereoToMono averages L+R per stereo frame to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(samples []int16) []int16 {
	frames := len(samples) / 2
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		avg := (int32(samples[i*2]) + int32(samples[i*2+1])) / 2

		// Clamp to int16 range.
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i] = int16(avg)
	}
	return out
}

// ResampleMono resamples mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate (or either rate is invalid), the input
// is returned unchanged. The output length is ⌊len × dstRate / srcRate⌋.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}

		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
