package audio

// TrimEdges removes the leading and trailing runs of samples whose absolute
// value does not exceed threshold. Interior quiet stretches are kept.
// If no sample exceeds threshold the result is empty.
//
// This works per sample, finer than the block-level gate used while recording.
// The returned slice shares backing memory with samples.
func TrimEdges(samples []int16, threshold int) []int16 {
	first := -1
	for i, s := range samples {
		if abs(s) > threshold {
			first = i
			break
		}
	}
	if first < 0 {
		return samples[:0]
	}

	last := first
	for i := len(samples) - 1; i > first; i-- {
		if abs(samples[i]) > threshold {
			last = i
			break
		}
	}

	return samples[first : last+1]
}
