// Package meter implements block loudness measurement for float32 PCM audio:
// RMS level, dB conversion with a fixed floor, and a fixed-capacity
// peak-hold buffer.
//
// All levels are linear amplitude in [0, 1] unless a name says dB. The dB
// floor stands in for -inf so silent blocks never produce NaN or -Inf
// downstream (meters, JSON telemetry).
package meter

import "math"

// FloorDB is the dB value reported for silence (level <= 0).
const FloorDB = -100.0

// DefaultPeakHoldCapacity is the number of recent block levels the peak-hold
// buffer retains. One reading per processed block, so the window is
// capacity*blocksize samples of program material.
const DefaultPeakHoldCapacity = 20

// RMS returns the root-mean-square amplitude of block, 0 for an empty block.
func RMS(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(block)))
}

// LinearToDB converts a linear amplitude to decibels, FloorDB for level <= 0.
// Positive levels convert exactly, even below the floor.
func LinearToDB(level float64) float64 {
	if level <= 0 {
		return FloorDB
	}
	return 20 * math.Log10(level)
}

// DBToLinear converts decibels to a linear amplitude multiplier.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// PeakHold keeps the most recent N dB readings in a ring buffer and reports
// the maximum currently held. It is a simple peak-hold over a bounded
// window, not a peak detector with its own decay curve.
//
// Not safe for concurrent use; it is owned by the processing path.
type PeakHold struct {
	ring []float64
	head int
	n    int
}

// NewPeakHold returns a PeakHold retaining the last capacity readings.
// Capacity must be >= 1; smaller values are raised to 1.
func NewPeakHold(capacity int) *PeakHold {
	if capacity < 1 {
		capacity = 1
	}
	return &PeakHold{ring: make([]float64, capacity)}
}

// Push records one dB reading, evicting the oldest once the buffer is full,
// and returns the maximum reading currently held.
func (p *PeakHold) Push(db float64) float64 {
	p.ring[p.head] = db
	p.head = (p.head + 1) % len(p.ring)
	if p.n < len(p.ring) {
		p.n++
	}
	max := p.ring[0]
	for _, v := range p.ring[1:p.n] {
		if v > max {
			max = v
		}
	}
	return max
}

// Peak returns the maximum reading currently held, FloorDB when empty.
func (p *PeakHold) Peak() float64 {
	if p.n == 0 {
		return FloorDB
	}
	max := p.ring[0]
	for _, v := range p.ring[1:p.n] {
		if v > max {
			max = v
		}
	}
	return max
}

// Reset discards all held readings.
func (p *PeakHold) Reset() {
	p.head = 0
	p.n = 0
}
