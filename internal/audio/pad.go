package audio

// PadSampleCount converts a pad duration into a sample count, rounded to the
// nearest sample.
func PadSampleCount(seconds float64, sampleRate int) int {
	n := seconds*float64(sampleRate) + 0.5
	if n < 1 {
		return 0
	}
	return int(n)
}

// PadSilence returns a new slice holding seconds of zero samples, then
// samples, then the same amount of zeros again. Many players clip the first
// and last fraction of a second of a file that has no lead-in.
func PadSilence(samples []int16, seconds float64, sampleRate int) []int16 {
	return PadSamples(samples, PadSampleCount(seconds, sampleRate))
}

// PadSamples is PadSilence with the pad length given in samples.
func PadSamples(samples []int16, pad int) []int16 {
	if pad < 0 {
		pad = 0
	}
	out := make([]int16, len(samples)+2*pad)
	copy(out[pad:], samples)
	return out
}
