// Package clipguard prevents sample overflow in the mixed output.
//
// When any sample in a block exceeds full scale (|s| > 1.0), the whole block
// is scaled down uniformly so the peak sample lands exactly at the ceiling.
// Block-wide scaling trades a moment of loudness pumping for zero harmonic
// distortion, which per-sample hard clipping would introduce. Both stereo
// channels are scaled by the same factor to preserve the stereo image.
package clipguard

// Protect scales left and right down in place if either channel exceeds
// full scale, and reports whether it did. In-range blocks are returned
// untouched; applying Protect twice is equivalent to applying it once.
func Protect(left, right []float32) bool {
	peak := maxAbs(left)
	if p := maxAbs(right); p > peak {
		peak = p
	}
	if peak <= 1.0 {
		return false
	}
	g := float32(1.0 / float64(peak))
	for i := range left {
		left[i] *= g
	}
	for i := range right {
		right[i] *= g
	}
	return true
}

func maxAbs(block []float32) float64 {
	var peak float32
	for _, s := range block {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak)
}
