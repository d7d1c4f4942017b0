package audio

import (
	"github.com/rs/zerolog/log"
)

// IsActive reports whether a block contains signal: true iff the largest
// absolute sample value exceeds threshold. A single loud sample anywhere in
// the block is enough; sustained tone and momentary clipping are not told apart.
// An empty block is never active.
func IsActive(samples []int16, threshold int) bool {
	if len(samples) == 0 {
		log.Warn().Msg("activity check on empty block")
		return false
	}
	return PeakAmplitude(samples) > threshold
}

// PeakAmplitude returns the largest absolute sample value in samples.
func PeakAmplitude(samples []int16) int {
	peak := 0
	for _, s := range samples {
		if a := abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// DetectSilence reports whether no sample in samples exceeds threshold.
func DetectSilence(samples []int16, threshold int) bool {
	return PeakAmplitude(samples) <= threshold
}

// abs widens before negating so -32768 does not overflow.
func abs(s int16) int {
	v := int(s)
	if v < 0 {
		return -v
	}
	return v
}
