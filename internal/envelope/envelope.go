// Package envelope implements the ducking state machine: it turns the
// primary stream's block loudness into a smoothed attenuation factor for the
// secondary stream.
//
// The follower has two states. While the primary level exceeds the
// threshold, the factor trends toward the configured duck depth (attack).
// Once the primary falls back below the threshold, a hold timer keeps the
// attenuation in place, and only after it expires does the factor recover
// toward unity (release). Attack and release use independent time constants,
// so suppression can be fast while recovery stays smooth.
package envelope

import "math"

// Params are the ballistics read by Process for one block. The caller takes
// them from its settings snapshot, so a block never sees a half-updated set.
type Params struct {
	ThresholdDB float64 // primary level above which ducking engages (strict >)
	DepthDB     float64 // attenuation at full duck, <= 0
	AttackMs    float64 // time constant toward the duck depth
	ReleaseMs   float64 // time constant back toward unity
	HoldMs      float64 // minimum time attenuation is sustained
}

// Follower tracks the current and target duck factors. The factor is a
// linear gain in (0, 1]: 1 means the secondary passes unattenuated.
//
// Not safe for concurrent use; it is owned by the processing path and
// advanced once per block.
type Follower struct {
	current float64
	target  float64
	holdMs  float64
}

// New returns a fully open Follower (factor 1.0, no hold pending).
func New() *Follower {
	return &Follower{current: 1.0, target: 1.0}
}

// Process advances the follower by one block of frames samples at sampleRate
// and returns the duck factor to apply to that block.
//
// primaryDB must already include the primary input gain. A level exactly at
// the threshold does not trigger ducking; the comparison is strictly
// greater-than.
func (f *Follower) Process(primaryDB float64, frames int, sampleRate float64, p Params) float64 {
	blockMs := 0.0
	if sampleRate > 0 {
		blockMs = float64(frames) / sampleRate * 1000
	}

	switch {
	case primaryDB > p.ThresholdDB:
		f.target = dbToLinear(p.DepthDB)
		f.holdMs = p.HoldMs
	case f.holdMs > 0:
		// Primary dropped out but the hold window is still running: keep
		// the current target so short pauses don't pump the secondary.
		f.holdMs -= blockMs
	default:
		f.target = 1.0
	}

	if f.target < f.current {
		// Attack: engaging attenuation.
		samples := p.AttackMs / 1000 * sampleRate
		step := (f.current - f.target) / math.Max(1, samples) * float64(frames)
		f.current = math.Max(f.target, f.current-step)
	} else if f.target > f.current {
		// Release: recovering toward unity.
		samples := p.ReleaseMs / 1000 * sampleRate
		step := (f.target - f.current) / math.Max(1, samples) * float64(frames)
		f.current = math.Min(f.target, f.current+step)
	}

	return f.current
}

// Factor returns the current duck factor without advancing the follower.
func (f *Follower) Factor() float64 { return f.current }

// Target returns the factor the follower is currently converging toward.
func (f *Follower) Target() float64 { return f.target }

// Holding reports whether the hold timer is keeping attenuation engaged.
func (f *Follower) Holding() bool { return f.holdMs > 0 }

// Reset returns the follower to fully open and cancels any pending hold.
func (f *Follower) Reset() {
	f.current = 1.0
	f.target = 1.0
	f.holdMs = 0
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}
