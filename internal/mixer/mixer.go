// Package mixer implements the gain and mix stage: per-path linear gain,
// duck scaling of the secondary, sample-wise summing, and output gain.
//
// Functions here are pure and allocation-free; they run inside the real-time
// processing path once per channel per block. All gains are linear
// multipliers — dB conversion happens once per block in the engine, not per
// sample here.
package mixer

// Gains are the linear multipliers applied to one block.
type Gains struct {
	Primary   float64
	Secondary float64
	Duck      float64 // duck factor applied to the secondary path, (0, 1]
	Output    float64
}

// Mix writes primary*g.Primary + secondary*g.Secondary*g.Duck, scaled by
// g.Output, into dst sample-wise. The three slices must have equal length;
// dst may alias either input.
func Mix(dst, primary, secondary []float32, g Gains) {
	pg := float32(g.Primary * g.Output)
	sg := float32(g.Secondary * g.Duck * g.Output)
	for i := range dst {
		dst[i] = primary[i]*pg + secondary[i]*sg
	}
}

// ApplyGain scales block in-place by a linear gain.
func ApplyGain(block []float32, gain float64) {
	g := float32(gain)
	for i := range block {
		block[i] *= g
	}
}
