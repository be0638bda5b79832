// Package engine wires the DSP stages into the real-time processing path
// and exposes its state to the control and telemetry contexts.
//
// Concurrency contract: ProcessBlock is invoked by exactly one goroutine
// (the audio pump) and owns the envelope, dynamics and peak-hold state
// exclusively. Settings cross in via publish-by-replacement — the control
// context stores a fresh immutable value behind an atomic pointer and
// ProcessBlock loads it once per block, so a block never observes a
// half-applied update. Meter and duck state cross out through single-word
// atomics. The processing path takes no locks, performs no I/O and does not
// allocate after construction.
package engine

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"ducker/internal/clipguard"
	"ducker/internal/dynamics"
	"ducker/internal/envelope"
	"ducker/internal/meter"
	"ducker/internal/mixer"
	"ducker/internal/settings"
)

// Metrics is a point-in-time projection of the engine's meter and envelope
// state. Immutable once constructed; superseded by the next snapshot.
type Metrics struct {
	PrimaryLevelDB   float64
	SecondaryLevelDB float64
	OutputLevelDB    float64
	PrimaryPeakDB    float64
	SecondaryPeakDB  float64
	OutputPeakDB     float64
	DuckFactor       float64
	PrimaryActive    bool
	Clipping         bool
}

// Engine is the dual-stream ducking processor. Construct one per process
// with New and hand it to the audio pump and the control plane; there is no
// package-level instance.
type Engine struct {
	sampleRate float64
	blockSize  int
	startTime  time.Time

	current atomic.Pointer[settings.Settings]
	running atomic.Bool

	env            *envelope.Follower
	compL, compR   *dynamics.Compressor
	limL, limR     *dynamics.Limiter
	primaryPeaks   *meter.PeakHold
	secondaryPeaks *meter.PeakHold
	outputPeaks    *meter.PeakHold

	// Scratch planes for gain staging, sized at construction so the
	// processing path never allocates.
	scratchPL, scratchPR []float32
	scratchSL, scratchSR []float32

	// State exported to the telemetry context.
	primaryLevelDB   atomic.Uint64
	secondaryLevelDB atomic.Uint64
	outputLevelDB    atomic.Uint64
	primaryPeakDB    atomic.Uint64
	secondaryPeakDB  atomic.Uint64
	outputPeakDB     atomic.Uint64
	duckFactor       atomic.Uint64
	primaryActive    atomic.Bool
	clipping         atomic.Bool
}

// New returns an Engine for the given session format, loaded with default
// settings. sampleRate and blockSize are fixed for the engine's lifetime.
func New(sampleRate float64, blockSize int) *Engine {
	e := &Engine{
		sampleRate:     sampleRate,
		blockSize:      blockSize,
		startTime:      time.Now(),
		env:            envelope.New(),
		compL:          dynamics.NewCompressor(sampleRate),
		compR:          dynamics.NewCompressor(sampleRate),
		limL:           dynamics.NewLimiter(sampleRate),
		limR:           dynamics.NewLimiter(sampleRate),
		primaryPeaks:   meter.NewPeakHold(meter.DefaultPeakHoldCapacity),
		secondaryPeaks: meter.NewPeakHold(meter.DefaultPeakHoldCapacity),
		outputPeaks:    meter.NewPeakHold(meter.DefaultPeakHoldCapacity),
		scratchPL:      make([]float32, blockSize),
		scratchPR:      make([]float32, blockSize),
		scratchSL:      make([]float32, blockSize),
		scratchSR:      make([]float32, blockSize),
	}
	def := settings.Default()
	e.current.Store(&def)
	e.storeFloat(&e.primaryLevelDB, meter.FloorDB)
	e.storeFloat(&e.secondaryLevelDB, meter.FloorDB)
	e.storeFloat(&e.outputLevelDB, meter.FloorDB)
	e.storeFloat(&e.primaryPeakDB, meter.FloorDB)
	e.storeFloat(&e.secondaryPeakDB, meter.FloorDB)
	e.storeFloat(&e.outputPeakDB, meter.FloorDB)
	e.storeFloat(&e.duckFactor, 1.0)
	return e
}

// Settings returns the currently published settings document.
func (e *Engine) Settings() settings.Settings {
	return *e.current.Load()
}

// UpdateSettings publishes a new settings document. The next processed
// block picks it up in full.
func (e *Engine) UpdateSettings(s settings.Settings) {
	e.current.Store(&s)
}

// SetRunning flips the processing-active flag reported over the status API.
func (e *Engine) SetRunning(running bool) { e.running.Store(running) }

// Running reports whether the processing context is active.
func (e *Engine) Running() bool { return e.running.Load() }

// SampleRate returns the session sample rate in Hz.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// BlockSize returns the session block size in frames.
func (e *Engine) BlockSize() int { return e.blockSize }

// Uptime returns the time elapsed since the engine was constructed.
func (e *Engine) Uptime() time.Duration { return time.Since(e.startTime) }

// ProcessBlock runs one block through the ducking chain: input gain, level
// measurement, envelope, duck + mix, optional dynamics, clip guard. All six
// buffers must have the engine's block size (shorter blocks are processed,
// longer ones truncated). The buffers are only touched for the duration of
// the call.
//
// Any fault inside the chain degrades to silence for this block rather than
// unwinding into the audio pump.
func (e *Engine) ProcessBlock(pL, pR, sL, sR, outL, outR []float32) {
	defer func() {
		if r := recover(); r != nil {
			zero(outL)
			zero(outR)
			slog.Error("process block fault, output muted", "panic", r)
		}
	}()

	s := e.current.Load()
	n := blockLen(e.blockSize, pL, pR, sL, sR, outL, outR)

	cpL := e.scratchPL[:n]
	cpR := e.scratchPR[:n]
	csL := e.scratchSL[:n]
	csR := e.scratchSR[:n]
	copy(cpL, pL)
	copy(cpR, pR)
	copy(csL, sL)
	copy(csR, sR)

	mixer.ApplyGain(cpL, meter.DBToLinear(s.PrimaryGainDB))
	mixer.ApplyGain(cpR, meter.DBToLinear(s.PrimaryGainDB))
	mixer.ApplyGain(csL, meter.DBToLinear(s.SecondaryGainDB))
	mixer.ApplyGain(csR, meter.DBToLinear(s.SecondaryGainDB))

	primaryRMS := math.Max(meter.RMS(cpL), meter.RMS(cpR))
	secondaryRMS := math.Max(meter.RMS(csL), meter.RMS(csR))
	primaryDB := meter.LinearToDB(primaryRMS)
	secondaryDB := meter.LinearToDB(secondaryRMS)

	duck := e.env.Process(primaryDB, n, e.sampleRate, envelope.Params{
		ThresholdDB: s.PrimaryThresholdDB,
		DepthDB:     s.DuckAmountDB,
		AttackMs:    s.AttackTimeMs,
		ReleaseMs:   s.ReleaseTimeMs,
		HoldMs:      s.HoldTimeMs,
	})

	g := mixer.Gains{Primary: 1, Secondary: 1, Duck: duck, Output: meter.DBToLinear(s.OutputGainDB)}
	mixer.Mix(outL[:n], cpL, csL, g)
	mixer.Mix(outR[:n], cpR, csR, g)

	if s.EnableCompressor {
		e.compL.Configure(s.CompressorThresholdDB, s.CompressorRatio)
		e.compR.Configure(s.CompressorThresholdDB, s.CompressorRatio)
		e.compL.Process(outL[:n])
		e.compR.Process(outR[:n])
	}
	if s.EnableLimiter {
		e.limL.Configure(s.LimiterThresholdDB)
		e.limR.Configure(s.LimiterThresholdDB)
		e.limL.Process(outL[:n])
		e.limR.Process(outR[:n])
	}

	clipped := clipguard.Protect(outL[:n], outR[:n])

	outputRMS := math.Max(meter.RMS(outL[:n]), meter.RMS(outR[:n]))
	outputDB := meter.LinearToDB(outputRMS)

	e.storeFloat(&e.primaryLevelDB, primaryDB)
	e.storeFloat(&e.secondaryLevelDB, secondaryDB)
	e.storeFloat(&e.outputLevelDB, outputDB)
	e.storeFloat(&e.primaryPeakDB, e.primaryPeaks.Push(primaryDB))
	e.storeFloat(&e.secondaryPeakDB, e.secondaryPeaks.Push(secondaryDB))
	e.storeFloat(&e.outputPeakDB, e.outputPeaks.Push(outputDB))
	e.storeFloat(&e.duckFactor, duck)
	e.primaryActive.Store(primaryDB > s.PrimaryThresholdDB)
	e.clipping.Store(clipped)
}

// Metrics returns the latest meter and envelope state. Safe to call from
// any goroutine; each field is read atomically.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		PrimaryLevelDB:   e.loadFloat(&e.primaryLevelDB),
		SecondaryLevelDB: e.loadFloat(&e.secondaryLevelDB),
		OutputLevelDB:    e.loadFloat(&e.outputLevelDB),
		PrimaryPeakDB:    e.loadFloat(&e.primaryPeakDB),
		SecondaryPeakDB:  e.loadFloat(&e.secondaryPeakDB),
		OutputPeakDB:     e.loadFloat(&e.outputPeakDB),
		DuckFactor:       e.loadFloat(&e.duckFactor),
		PrimaryActive:    e.primaryActive.Load(),
		Clipping:         e.clipping.Load(),
	}
}

// DuckFactor returns the duck factor applied to the most recent block.
func (e *Engine) DuckFactor() float64 { return e.loadFloat(&e.duckFactor) }

func (e *Engine) storeFloat(dst *atomic.Uint64, v float64) {
	dst.Store(math.Float64bits(v))
}

func (e *Engine) loadFloat(src *atomic.Uint64) float64 {
	return math.Float64frombits(src.Load())
}

func blockLen(limit int, bufs ...[]float32) int {
	n := limit
	for _, b := range bufs {
		if len(b) < n {
			n = len(b)
		}
	}
	if n < 0 {
		n = 0
	}
	return n
}

func zero(block []float32) {
	for i := range block {
		block[i] = 0
	}
}
