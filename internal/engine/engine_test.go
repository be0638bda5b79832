package engine

import (
	"math"
	"testing"

	"ducker/internal/meter"
	"ducker/internal/settings"
)

const (
	testRate  = 48000.0
	testBlock = 256
)

// testSettings returns the baseline used across these tests: 0 dB gains,
// -30 dB threshold, -20 dB duck depth, no dynamics stages.
func testSettings() settings.Settings {
	s := settings.Default()
	s.PrimaryThresholdDB = -30
	s.DuckAmountDB = -20
	s.AttackTimeMs = 10
	s.ReleaseTimeMs = 500
	s.HoldTimeMs = 100
	s.EnableLimiter = false
	s.EnableCompressor = false
	return s
}

func constBlock(v float32) []float32 {
	b := make([]float32, testBlock)
	for i := range b {
		b[i] = v
	}
	return b
}

func runBlocks(e *Engine, n int, primary, secondary float32) (outL, outR []float32) {
	outL = make([]float32, testBlock)
	outR = make([]float32, testBlock)
	pL, pR := constBlock(primary), constBlock(primary)
	sL, sR := constBlock(secondary), constBlock(secondary)
	for i := 0; i < n; i++ {
		e.ProcessBlock(pL, pR, sL, sR, outL, outR)
	}
	return outL, outR
}

func TestSilentPrimaryPassesSecondaryUnchanged(t *testing.T) {
	e := New(testRate, testBlock)
	e.UpdateSettings(testSettings())

	outL, _ := runBlocks(e, 50, 0, 0.5)

	if e.DuckFactor() != 1.0 {
		t.Errorf("duck factor with silent primary = %f, want 1.0", e.DuckFactor())
	}
	for i, s := range outL {
		if math.Abs(float64(s)-0.5) > 1e-6 {
			t.Fatalf("output[%d] = %f, want 0.5 (unattenuated secondary)", i, s)
		}
	}
}

func TestLoudPrimaryDucksSecondary(t *testing.T) {
	e := New(testRate, testBlock)
	e.UpdateSettings(testSettings())

	// Settle open, then hit the primary at 0.8 for ~200 ms (38 blocks).
	runBlocks(e, 50, 0, 0.5)
	runBlocks(e, 38, 0.8, 0.5)

	depth := math.Pow(10, -20.0/20)
	if math.Abs(e.DuckFactor()-depth) > 1e-6 {
		t.Errorf("duck factor = %f, want depth %f", e.DuckFactor(), depth)
	}

	m := e.Metrics()
	if !m.PrimaryActive {
		t.Error("primary not reported active at 0.8 amplitude")
	}
}

func TestReleaseAfterHoldExpires(t *testing.T) {
	e := New(testRate, testBlock)
	s := testSettings()
	s.HoldTimeMs = 50
	e.UpdateSettings(s)

	runBlocks(e, 50, 0.8, 0.5)
	ducked := e.DuckFactor()

	// Convergence is exponential, so give it a few release windows.
	blocks := int((s.HoldTimeMs + 5*s.ReleaseTimeMs) / 1000 * testRate / testBlock)
	runBlocks(e, blocks, 0, 0.5)

	if !(e.DuckFactor() > ducked) {
		t.Errorf("duck factor did not recover: %f -> %f", ducked, e.DuckFactor())
	}
	if e.DuckFactor() < 0.99 {
		t.Errorf("duck factor = %f, want ~1.0 after release window", e.DuckFactor())
	}
}

func TestGainStaging(t *testing.T) {
	e := New(testRate, testBlock)
	s := testSettings()
	s.SecondaryGainDB = -6.0206 // x0.5
	e.UpdateSettings(s)

	outL, _ := runBlocks(e, 50, 0, 0.5)
	for i, v := range outL {
		if math.Abs(float64(v)-0.25) > 1e-4 {
			t.Fatalf("output[%d] = %f, want 0.25 (secondary gain -6 dB)", i, v)
		}
	}
}

func TestClipGuardEngages(t *testing.T) {
	e := New(testRate, testBlock)
	e.UpdateSettings(testSettings())

	outL, outR := runBlocks(e, 3, 0.9, 0.9)

	if !e.Metrics().Clipping {
		t.Error("clipping not reported for an overdriven mix")
	}
	for i := range outL {
		if math.Abs(float64(outL[i])) > 1.0+1e-6 || math.Abs(float64(outR[i])) > 1.0+1e-6 {
			t.Fatalf("sample %d exceeds full scale after clip guard", i)
		}
	}
}

func TestZeroLengthBlockIsSafe(t *testing.T) {
	e := New(testRate, testBlock)
	e.UpdateSettings(testSettings())
	e.ProcessBlock(nil, nil, nil, nil, nil, nil)

	m := e.Metrics()
	if m.PrimaryLevelDB != meter.FloorDB {
		t.Errorf("primary level for empty block = %f, want floor", m.PrimaryLevelDB)
	}
}

func TestMetricsReflectLevels(t *testing.T) {
	e := New(testRate, testBlock)
	e.UpdateSettings(testSettings())

	runBlocks(e, 10, 0.5, 0)
	m := e.Metrics()

	// DC block at 0.5: RMS 0.5 -> ~-6 dB.
	if math.Abs(m.PrimaryLevelDB+6.0206) > 0.1 {
		t.Errorf("primary level = %f dB, want ~-6", m.PrimaryLevelDB)
	}
	if m.SecondaryLevelDB != meter.FloorDB {
		t.Errorf("secondary level = %f, want floor", m.SecondaryLevelDB)
	}
	if m.PrimaryPeakDB < m.PrimaryLevelDB {
		t.Error("peak below current level")
	}
}

func TestSettingsPublishIsPickedUpNextBlock(t *testing.T) {
	e := New(testRate, testBlock)
	e.UpdateSettings(testSettings())
	runBlocks(e, 10, 0, 0.5)

	s := e.Settings()
	s.SecondaryGainDB = -100 // effectively mute
	e.UpdateSettings(s)

	outL, _ := runBlocks(e, 50, 0, 0.5)
	for i, v := range outL {
		if math.Abs(float64(v)) > 1e-4 {
			t.Fatalf("output[%d] = %f after muting secondary gain", i, v)
		}
	}
}

func TestLimiterStageRuns(t *testing.T) {
	e := New(testRate, testBlock)
	s := testSettings()
	s.EnableLimiter = true
	s.LimiterThresholdDB = -6
	e.UpdateSettings(s)

	outL, _ := runBlocks(e, 20, 0, 0.9)

	threshold := math.Pow(10, -6.0/20)
	for i, v := range outL {
		if math.Abs(float64(v)) > threshold+0.02 {
			t.Fatalf("output[%d] = %f above limiter threshold %f", i, v, threshold)
		}
	}
}

func TestRunningFlag(t *testing.T) {
	e := New(testRate, testBlock)
	if e.Running() {
		t.Error("engine running before SetRunning")
	}
	e.SetRunning(true)
	if !e.Running() {
		t.Error("SetRunning(true) not reflected")
	}
}
