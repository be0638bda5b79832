// Package settings defines the operating parameters of the ducking engine
// and the rules for changing them.
//
// Settings values are immutable once published: a partial update never
// mutates an existing value, it derives a new one via Apply. The engine
// holds the current value behind an atomic pointer, so the processing path
// always sees a fully consistent document (see the engine package).
package settings

import (
	"encoding/json"
	"fmt"
	"math"
)

// Settings is the full operating document. JSON tags double as the field
// keys used by the HTTP API and the persisted key/value store.
type Settings struct {
	// Ducking
	PrimaryThresholdDB float64 `json:"primary_threshold_db"`
	DuckAmountDB       float64 `json:"duck_amount_db"`
	AttackTimeMs       float64 `json:"attack_time_ms"`
	ReleaseTimeMs      float64 `json:"release_time_ms"`
	HoldTimeMs         float64 `json:"hold_time_ms"`

	// Gain staging
	PrimaryGainDB   float64 `json:"primary_gain_db"`
	SecondaryGainDB float64 `json:"secondary_gain_db"`
	OutputGainDB    float64 `json:"output_gain_db"`

	// Post-mix dynamics
	EnableLimiter         bool    `json:"enable_limiter"`
	LimiterThresholdDB    float64 `json:"limiter_threshold_db"`
	EnableCompressor      bool    `json:"enable_compressor"`
	CompressorRatio       float64 `json:"compressor_ratio"`
	CompressorThresholdDB float64 `json:"compressor_threshold_db"`

	// Routing / UI hints. Informational only: routing itself is owned by
	// the audio server, these are remembered for the dashboard.
	PrimarySource   string `json:"primary_source"`
	SecondarySource string `json:"secondary_source"`
	OutputDevice    string `json:"output_device"`
	ShowVUMeters    bool   `json:"show_vu_meters"`
	DuckingMode     string `json:"ducking_mode"`
}

// Default returns the built-in defaults used when no persisted settings
// exist or a stored field fails validation.
func Default() Settings {
	return Settings{
		PrimaryThresholdDB: -40,
		DuckAmountDB:       -20,
		AttackTimeMs:       50,
		ReleaseTimeMs:      500,
		HoldTimeMs:         100,

		PrimaryGainDB:   0,
		SecondaryGainDB: 0,
		OutputGainDB:    0,

		EnableLimiter:         true,
		LimiterThresholdDB:    -1,
		EnableCompressor:      false,
		CompressorRatio:       4,
		CompressorThresholdDB: -24,

		PrimarySource:   "carplay",
		SecondarySource: "line_in",
		OutputDevice:    "system",
		ShowVUMeters:    true,
		DuckingMode:     "standard",
	}
}

// Apply overlays fields onto base and returns the resulting document along
// with the names of fields that were applied and, per rejected field, the
// reason. Rejected fields keep their base value; rejection is never fatal
// and valid fields in the same update still take effect.
//
// Field values arrive as decoded JSON (float64 for numbers, bool, string).
func Apply(base Settings, fields map[string]any) (next Settings, applied []string, rejected map[string]string) {
	next = base
	rejected = map[string]string{}

	for key, raw := range fields {
		if err := applyField(&next, key, raw); err != nil {
			rejected[key] = err.Error()
			continue
		}
		applied = append(applied, key)
	}
	return next, applied, rejected
}

func applyField(s *Settings, key string, raw any) error {
	switch key {
	case "primary_threshold_db":
		return setFinite(&s.PrimaryThresholdDB, raw)
	case "duck_amount_db":
		v, err := finite(raw)
		if err != nil {
			return err
		}
		if v > 0 {
			return fmt.Errorf("must be <= 0 dB (ducking never amplifies), got %v", v)
		}
		s.DuckAmountDB = v
		return nil
	case "attack_time_ms":
		return setPositive(&s.AttackTimeMs, raw)
	case "release_time_ms":
		return setPositive(&s.ReleaseTimeMs, raw)
	case "hold_time_ms":
		return setPositive(&s.HoldTimeMs, raw)
	case "primary_gain_db":
		return setFinite(&s.PrimaryGainDB, raw)
	case "secondary_gain_db":
		return setFinite(&s.SecondaryGainDB, raw)
	case "output_gain_db":
		return setFinite(&s.OutputGainDB, raw)
	case "enable_limiter":
		return setBool(&s.EnableLimiter, raw)
	case "limiter_threshold_db":
		v, err := finite(raw)
		if err != nil {
			return err
		}
		if v > 0 {
			return fmt.Errorf("must be <= 0 dBFS, got %v", v)
		}
		s.LimiterThresholdDB = v
		return nil
	case "enable_compressor":
		return setBool(&s.EnableCompressor, raw)
	case "compressor_ratio":
		v, err := finite(raw)
		if err != nil {
			return err
		}
		if v < 1 {
			return fmt.Errorf("must be >= 1, got %v", v)
		}
		s.CompressorRatio = v
		return nil
	case "compressor_threshold_db":
		return setFinite(&s.CompressorThresholdDB, raw)
	case "primary_source":
		return setString(&s.PrimarySource, raw)
	case "secondary_source":
		return setString(&s.SecondarySource, raw)
	case "output_device":
		return setString(&s.OutputDevice, raw)
	case "show_vu_meters":
		return setBool(&s.ShowVUMeters, raw)
	case "ducking_mode":
		return setString(&s.DuckingMode, raw)
	default:
		return fmt.Errorf("unknown field")
	}
}

// FieldMap returns the document as a flat field-name -> value map, the shape
// used by Apply and by the persisted key/value store.
func FieldMap(s Settings) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		// Settings contains only plain scalars; this cannot fail.
		panic(fmt.Sprintf("marshal settings: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("unmarshal settings: %v", err))
	}
	return m
}

func finite(raw any) (float64, error) {
	v, ok := raw.(float64)
	if !ok {
		if n, isNum := raw.(json.Number); isNum {
			f, err := n.Float64()
			if err != nil {
				return 0, fmt.Errorf("not a number: %v", raw)
			}
			v = f
		} else {
			return 0, fmt.Errorf("expected number, got %T", raw)
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("must be finite")
	}
	return v, nil
}

func setFinite(dst *float64, raw any) error {
	v, err := finite(raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setPositive(dst *float64, raw any) error {
	v, err := finite(raw)
	if err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("must be > 0, got %v", v)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, raw any) error {
	v, ok := raw.(bool)
	if !ok {
		return fmt.Errorf("expected boolean, got %T", raw)
	}
	*dst = v
	return nil
}

func setString(dst *string, raw any) error {
	v, ok := raw.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", raw)
	}
	*dst = v
	return nil
}
