// Package telemetry periodically projects the engine's meter and envelope
// state into immutable snapshots for external consumers.
//
// Publication runs on its own cadence, independent of the audio block rate,
// and is best-effort end to end: the hub drops frames for slow subscribers
// and a lagging publisher never affects audio correctness.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"ducker/internal/engine"
)

// DefaultInterval is the metrics publication cadence (20 Hz).
const DefaultInterval = 50 * time.Millisecond

// statusInterval is the slower cadence for the status event.
const statusInterval = time.Second

// Snapshot is a point-in-time copy of levels, peaks and engine state.
// Immutable once constructed; superseded by the next snapshot.
type Snapshot struct {
	PrimaryLevelDB   float64 `json:"primary_level_db"`
	SecondaryLevelDB float64 `json:"secondary_level_db"`
	OutputLevelDB    float64 `json:"output_level_db"`
	PrimaryPeakDB    float64 `json:"primary_peak_db"`
	SecondaryPeakDB  float64 `json:"secondary_peak_db"`
	OutputPeakDB     float64 `json:"output_peak_db"`
	DuckAmount       float64 `json:"duck_amount"`
	PrimaryActive    bool    `json:"primary_active"`
	Clipping         bool    `json:"clipping"`
	SampleRate       float64 `json:"samplerate"`
	BlockSize        int     `json:"blocksize"`
	LatencyMs        float64 `json:"latency_ms"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
}

// Status is the slower heartbeat payload.
type Status struct {
	Running       bool    `json:"running"`
	SampleRate    float64 `json:"samplerate"`
	BlockSize     int     `json:"blocksize"`
	LatencyMs     float64 `json:"latency_ms"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// Source is the engine surface the publisher reads. All methods must be
// safe to call from the telemetry goroutine.
type Source interface {
	Metrics() engine.Metrics
	SampleRate() float64
	BlockSize() int
	Uptime() time.Duration
	Running() bool
}

// Sink receives published events. *wshub.Hub satisfies it.
type Sink interface {
	Broadcast(event string, data any)
}

// Publisher assembles snapshots from a Source on a fixed cadence and hands
// them to a Sink, keeping the most recent one for pull-style consumers.
type Publisher struct {
	src      Source
	sink     Sink
	interval time.Duration
	latest   atomic.Pointer[Snapshot]
}

// New returns a Publisher reading from src and pushing to sink every
// interval. A non-positive interval falls back to DefaultInterval.
func New(src Source, sink Sink, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Publisher{src: src, sink: sink, interval: interval}
}

// Run publishes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastStatus time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.Publish()
			if time.Since(lastStatus) >= statusInterval {
				lastStatus = time.Now()
				p.sink.Broadcast("status", Status{
					Running:       p.src.Running(),
					SampleRate:    snap.SampleRate,
					BlockSize:     snap.BlockSize,
					LatencyMs:     snap.LatencyMs,
					UptimeSeconds: snap.UptimeSeconds,
				})
			}
		}
	}
}

// Publish assembles one snapshot, stores it as the latest and broadcasts it.
func (p *Publisher) Publish() Snapshot {
	snap := p.assemble()
	p.latest.Store(&snap)
	p.sink.Broadcast("metrics", snap)
	return snap
}

// Latest returns the most recently published snapshot, assembling a fresh
// one if nothing has been published yet.
func (p *Publisher) Latest() Snapshot {
	if snap := p.latest.Load(); snap != nil {
		return *snap
	}
	return p.assemble()
}

func (p *Publisher) assemble() Snapshot {
	m := p.src.Metrics()
	rate := p.src.SampleRate()
	block := p.src.BlockSize()

	latency := 0.0
	if rate > 0 {
		latency = float64(block) / rate * 1000
	}

	return Snapshot{
		PrimaryLevelDB:   m.PrimaryLevelDB,
		SecondaryLevelDB: m.SecondaryLevelDB,
		OutputLevelDB:    m.OutputLevelDB,
		PrimaryPeakDB:    m.PrimaryPeakDB,
		SecondaryPeakDB:  m.SecondaryPeakDB,
		OutputPeakDB:     m.OutputPeakDB,
		DuckAmount:       m.DuckFactor,
		PrimaryActive:    m.PrimaryActive,
		Clipping:         m.Clipping,
		SampleRate:       rate,
		BlockSize:        block,
		LatencyMs:        latency,
		UptimeSeconds:    int64(p.src.Uptime().Seconds()),
	}
}
