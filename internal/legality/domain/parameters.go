package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// UserParameters are the technical values a user declared for a modification.
// nil means the value is absent; absent values never trigger a rule.
type UserParameters struct {
	ClearanceLoaded  *float64 `json:"clearanceLoaded,omitempty"`
	TrackWidthChange *float64 `json:"trackWidthChange,omitempty"`
	ET               *float64 `json:"et,omitempty"`
	NoiseLevelDB     *float64 `json:"noiseLevelDb,omitempty"`
}

// IsEmpty reports whether no parameter was declared
func (p UserParameters) IsEmpty() bool {
	return p.ClearanceLoaded == nil && p.TrackWidthChange == nil && p.ET == nil && p.NoiseLevelDB == nil
}

var userParameterKeys = map[string][]string{
	"clearanceLoaded":  {"clearanceLoaded", "clearance_loaded", "bodenfreiheit"},
	"trackWidthChange": {"trackWidthChange", "track_width_change", "spurverbreiterung"},
	"et":               {"et", "ET", "einpresstiefe"},
	"noiseLevelDb":     {"noiseLevelDb", "noise_level_db", "noiseLevel", "standgeraeusch"},
}

// ParseUserParameters reads a free-form parameter map. Unparseable values are absent.
func ParseUserParameters(raw map[string]any) UserParameters {
	lookup := func(field string) *float64 {
		for _, key := range userParameterKeys[field] {
			if v, ok := raw[key]; ok {
				if f, ok := ParseParameterValue(v); ok {
					return &f
				}
			}
		}
		return nil
	}
	return UserParameters{
		ClearanceLoaded:  lookup("clearanceLoaded"),
		TrackWidthChange: lookup("trackWidthChange"),
		ET:               lookup("et"),
		NoiseLevelDB:     lookup("noiseLevelDb"),
	}
}

// ParseUserParametersJSON parses a JSON object; invalid JSON yields no parameters
func ParseUserParametersJSON(data []byte) UserParameters {
	if len(data) == 0 {
		return UserParameters{}
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return UserParameters{}
	}
	return ParseUserParameters(raw)
}

// ParseParameterValue accepts numbers and numeric strings, with a comma as
// decimal separator allowed. Everything else, including NaN and infinities, is absent.
func ParseParameterValue(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := parseNumericString(n)
		if !ok {
			return 0, false
		}
		f = parsed
	case *float64:
		if n == nil {
			return 0, false
		}
		f = *n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseNumericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			return 0, false
		}
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// CriticalParameters are the structured thresholds of a reference entry.
// Each field is independently optional.
type CriticalParameters struct {
	MinClearanceLoaded *float64    `json:"minClearanceLoaded,omitempty"`
	ETRange            *[2]float64 `json:"etRange,omitempty"`
	MaxNoiseLevel      *float64    `json:"maxNoiseLevel,omitempty"`
	MinWheelClearance  *float64    `json:"minWheelClearance,omitempty"`
}

// IsEmpty reports whether no threshold is present
func (c *CriticalParameters) IsEmpty() bool {
	return c == nil || (c.MinClearanceLoaded == nil && c.ETRange == nil && c.MaxNoiseLevel == nil && c.MinWheelClearance == nil)
}

// UnmarshalJSON parses thresholds with the same permissive rules as user values.
// An etRange that is not a two-element numeric list is dropped.
func (c *CriticalParameters) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = CriticalParameters{}

	single := func(key string) *float64 {
		if f, ok := ParseParameterValue(raw[key]); ok {
			return &f
		}
		return nil
	}
	c.MinClearanceLoaded = single("minClearanceLoaded")
	c.MaxNoiseLevel = single("maxNoiseLevel")
	c.MinWheelClearance = single("minWheelClearance")

	if list, ok := raw["etRange"].([]any); ok && len(list) == 2 {
		lo, okLo := ParseParameterValue(list[0])
		hi, okHi := ParseParameterValue(list[1])
		if okLo && okHi {
			if lo > hi {
				lo, hi = hi, lo
			}
			c.ETRange = &[2]float64{lo, hi}
		}
	}
	return nil
}
