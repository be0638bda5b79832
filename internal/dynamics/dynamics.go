// Package dynamics implements the optional post-mix gain reduction stages:
// a downward compressor and a hard limiter. Both run on the mixed signal
// before the clip guard and are enabled per-stage from the settings
// document.
//
// Gain reduction follows a per-sample envelope of the instantaneous level
// smoothed with independent attack/release coefficients, so transients are
// caught quickly and recovery stays free of pumping.
package dynamics

import "math"

// Compressor applies ratio-based gain reduction above a threshold.
//
// Not safe for concurrent use; it is owned by the processing path. The
// envelope persists across blocks so reduction is continuous at block
// boundaries.
type Compressor struct {
	thresholdDB  float64
	threshold    float64 // linear
	ratio        float64
	attackCoeff  float64
	releaseCoeff float64
	envelope     float64
}

// NewCompressor returns a compressor with 5 ms attack and 50 ms release at
// sampleRate, configured by Configure before first use.
func NewCompressor(sampleRate float64) *Compressor {
	c := &Compressor{ratio: 1}
	c.attackCoeff = timeCoeff(5, sampleRate)
	c.releaseCoeff = timeCoeff(50, sampleRate)
	return c
}

// Configure sets the threshold and ratio. Ratio below 1 is clamped to 1
// (no compression). Cheap enough to call once per block.
func (c *Compressor) Configure(thresholdDB, ratio float64) {
	if ratio < 1 {
		ratio = 1
	}
	if thresholdDB != c.thresholdDB {
		c.thresholdDB = thresholdDB
		c.threshold = math.Pow(10, thresholdDB/20)
	}
	c.ratio = ratio
}

// Process applies gain reduction to block in place.
func (c *Compressor) Process(block []float32) {
	if c.ratio <= 1 {
		return
	}
	for i, s := range block {
		level := math.Abs(float64(s))

		if level > c.envelope {
			c.envelope += c.attackCoeff * (level - c.envelope)
		} else {
			c.envelope += c.releaseCoeff * (level - c.envelope)
		}

		if c.envelope <= c.threshold {
			continue
		}
		envelopeDB := 20 * math.Log10(c.envelope)
		reductionDB := (envelopeDB - c.thresholdDB) * (1/c.ratio - 1)
		block[i] = s * float32(math.Pow(10, reductionDB/20))
	}
}

// Reset clears the level envelope without changing parameters.
func (c *Compressor) Reset() { c.envelope = 0 }

// Limiter is an infinite-ratio compressor: the smoothed level is never
// allowed above the threshold. Attack is near-instant; release is slow to
// avoid audible gain ripple.
type Limiter struct {
	thresholdDB  float64
	threshold    float64
	releaseCoeff float64
	envelope     float64
}

// NewLimiter returns a limiter with a 100 ms release at sampleRate.
func NewLimiter(sampleRate float64) *Limiter {
	return &Limiter{threshold: 1, releaseCoeff: timeCoeff(100, sampleRate)}
}

// Configure sets the limiting threshold in dB.
func (l *Limiter) Configure(thresholdDB float64) {
	if thresholdDB != l.thresholdDB {
		l.thresholdDB = thresholdDB
		l.threshold = math.Pow(10, thresholdDB/20)
	}
}

// Process caps block in place so the smoothed level stays at or below the
// threshold.
func (l *Limiter) Process(block []float32) {
	for i, s := range block {
		level := math.Abs(float64(s))

		if level > l.envelope {
			l.envelope = level // instant attack
		} else {
			l.envelope += l.releaseCoeff * (level - l.envelope)
		}

		if l.envelope <= l.threshold || l.envelope == 0 {
			continue
		}
		block[i] = s * float32(l.threshold/l.envelope)
	}
}

// Reset clears the level envelope without changing parameters.
func (l *Limiter) Reset() { l.envelope = 0 }

// timeCoeff converts a time constant in ms to a one-pole smoothing
// coefficient at sampleRate.
func timeCoeff(ms, sampleRate float64) float64 {
	if ms <= 0 || sampleRate <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(ms/1000*sampleRate))
}
