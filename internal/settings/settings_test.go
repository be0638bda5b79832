package settings

import (
	"math"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	d := Default()
	if d.AttackTimeMs <= 0 || d.ReleaseTimeMs <= 0 || d.HoldTimeMs <= 0 {
		t.Error("default time constants must be > 0")
	}
	if d.DuckAmountDB > 0 {
		t.Error("default duck amount must be <= 0 dB")
	}
}

func TestApplyRoundTrip(t *testing.T) {
	base := Default()
	next, applied, rejected := Apply(base, map[string]any{"attack_time_ms": 75.0})

	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", rejected)
	}
	if len(applied) != 1 || applied[0] != "attack_time_ms" {
		t.Fatalf("applied = %v, want [attack_time_ms]", applied)
	}
	if next.AttackTimeMs != 75 {
		t.Errorf("attack_time_ms = %f, want 75", next.AttackTimeMs)
	}

	// Everything else unchanged.
	want := base
	want.AttackTimeMs = 75
	if next != want {
		t.Errorf("other fields changed: got %+v, want %+v", next, want)
	}
}

func TestApplyRejectsNonPositiveTimes(t *testing.T) {
	base := Default()
	next, applied, rejected := Apply(base, map[string]any{"attack_time_ms": -5.0})

	if len(applied) != 0 {
		t.Errorf("applied = %v, want none", applied)
	}
	if _, ok := rejected["attack_time_ms"]; !ok {
		t.Error("attack_time_ms = -5 was not rejected")
	}
	if next.AttackTimeMs != base.AttackTimeMs {
		t.Errorf("rejected field changed stored value: %f", next.AttackTimeMs)
	}
}

func TestApplyRejectionIsPerField(t *testing.T) {
	base := Default()
	next, applied, rejected := Apply(base, map[string]any{
		"attack_time_ms":  -5.0,
		"release_time_ms": 250.0,
	})

	if _, ok := rejected["attack_time_ms"]; !ok {
		t.Error("invalid field not rejected")
	}
	if len(applied) != 1 || applied[0] != "release_time_ms" {
		t.Errorf("applied = %v, want [release_time_ms]", applied)
	}
	if next.ReleaseTimeMs != 250 {
		t.Error("valid field in a mixed update was not applied")
	}
	if next.AttackTimeMs != base.AttackTimeMs {
		t.Error("invalid field in a mixed update was applied")
	}
}

func TestApplyRejectsNonFiniteGains(t *testing.T) {
	base := Default()
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, _, rejected := Apply(base, map[string]any{"output_gain_db": v})
		if _, ok := rejected["output_gain_db"]; !ok {
			t.Errorf("non-finite gain %v was not rejected", v)
		}
	}
}

func TestApplyRejectsPositiveDuckAmount(t *testing.T) {
	_, _, rejected := Apply(Default(), map[string]any{"duck_amount_db": 3.0})
	if _, ok := rejected["duck_amount_db"]; !ok {
		t.Error("duck_amount_db > 0 was not rejected")
	}
}

func TestApplyRejectsUnknownField(t *testing.T) {
	_, applied, rejected := Apply(Default(), map[string]any{"no_such_field": 1.0})
	if len(applied) != 0 {
		t.Error("unknown field reported as applied")
	}
	if _, ok := rejected["no_such_field"]; !ok {
		t.Error("unknown field not rejected")
	}
}

func TestApplyRejectsWrongTypes(t *testing.T) {
	base := Default()
	_, _, rejected := Apply(base, map[string]any{
		"attack_time_ms": "fast",
		"enable_limiter": 1.0,
		"ducking_mode":   true,
	})
	for _, key := range []string{"attack_time_ms", "enable_limiter", "ducking_mode"} {
		if _, ok := rejected[key]; !ok {
			t.Errorf("wrong-typed %s was not rejected", key)
		}
	}
}

func TestApplyCompressorRatioBound(t *testing.T) {
	_, _, rejected := Apply(Default(), map[string]any{"compressor_ratio": 0.5})
	if _, ok := rejected["compressor_ratio"]; !ok {
		t.Error("compressor_ratio < 1 was not rejected")
	}
}

func TestFieldMapRoundTrip(t *testing.T) {
	base := Default()
	base.AttackTimeMs = 33
	base.PrimarySource = "bluetooth"

	m := FieldMap(base)
	next, applied, rejected := Apply(Default(), m)
	if len(rejected) != 0 {
		t.Fatalf("round trip rejections: %v", rejected)
	}
	if len(applied) != len(m) {
		t.Errorf("applied %d of %d fields", len(applied), len(m))
	}
	if next != base {
		t.Errorf("round trip mismatch: got %+v, want %+v", next, base)
	}
}
