package engine_test

import (
	"testing"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestValidateParameters(t *testing.T) {
	thresholds := &domain.CriticalParameters{
		MinClearanceLoaded: f(100),
		ETRange:            &[2]float64{30, 45},
		MaxNoiseLevel:      f(95),
	}

	tests := []struct {
		name       string
		params     domain.UserParameters
		thresholds *domain.CriticalParameters
		want       []string
	}{
		{"nothing declared", domain.UserParameters{}, thresholds, nil},
		{"clearance below minimum", domain.UserParameters{ClearanceLoaded: f(90)}, thresholds, []string{engine.RuleMinClearance}},
		{"clearance at minimum", domain.UserParameters{ClearanceLoaded: f(100)}, thresholds, nil},
		{"et below range", domain.UserParameters{ET: f(25)}, thresholds, []string{engine.RuleETRange}},
		{"et above range", domain.UserParameters{ET: f(45.5)}, thresholds, []string{engine.RuleETRange}},
		{"et on bounds", domain.UserParameters{ET: f(30)}, thresholds, nil},
		{"et upper bound", domain.UserParameters{ET: f(45)}, thresholds, nil},
		{"noise above limit", domain.UserParameters{NoiseLevelDB: f(99)}, thresholds, []string{engine.RuleMaxNoise}},
		{"noise at limit", domain.UserParameters{NoiseLevelDB: f(95)}, thresholds, nil},
		{"track width within policy", domain.UserParameters{TrackWidthChange: f(20)}, nil, nil},
		{"track width exceeds policy", domain.UserParameters{TrackWidthChange: f(25)}, nil, []string{engine.RuleTrackWidth}},
		{"negative track width counts by magnitude", domain.UserParameters{TrackWidthChange: f(-30)}, nil, []string{engine.RuleTrackWidth}},
		{"missing threshold never fires", domain.UserParameters{ClearanceLoaded: f(10), ET: f(99), NoiseLevelDB: f(130)}, &domain.CriticalParameters{}, nil},
		{"no matched entry", domain.UserParameters{ClearanceLoaded: f(10), ET: f(99), NoiseLevelDB: f(130)}, nil, nil},
		{
			"several findings in fixed order",
			domain.UserParameters{ClearanceLoaded: f(80), ET: f(50), TrackWidthChange: f(40), NoiseLevelDB: f(101)},
			thresholds,
			[]string{engine.RuleMinClearance, engine.RuleETRange, engine.RuleTrackWidth, engine.RuleMaxNoise},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.ValidateParameters(tt.params, tt.thresholds)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, domain.RuleIDs(got))
		})
	}
}

func TestValidateParameters_Severities(t *testing.T) {
	got := engine.ValidateParameters(
		domain.UserParameters{ClearanceLoaded: f(80), ET: f(50), TrackWidthChange: f(40), NoiseLevelDB: f(101)},
		&domain.CriticalParameters{MinClearanceLoaded: f(100), ETRange: &[2]float64{30, 45}, MaxNoiseLevel: f(95)},
	)
	require.Len(t, got, 4)
	assert.Equal(t, domain.SeverityCritical, got[0].Severity)
	assert.Equal(t, domain.SeverityWarning, got[1].Severity)
	assert.Equal(t, domain.SeverityWarning, got[2].Severity)
	assert.Equal(t, domain.SeverityCritical, got[3].Severity)
}

func TestValidateParameters_Messages(t *testing.T) {
	got := engine.ValidateParameters(domain.UserParameters{ClearanceLoaded: f(92.5)}, &domain.CriticalParameters{MinClearanceLoaded: f(100)})
	require.Len(t, got, 1)

	assert.Contains(t, got[0].MessageDe, "92,5 mm")
	assert.Contains(t, got[0].MessageDe, "100 mm")
	assert.Contains(t, got[0].MessageEn, "92.5 mm")
	assert.NotEqual(t, got[0].MessageDe, got[0].MessageEn)
}

func TestValidateParameters_ParsedUserValues(t *testing.T) {
	params := domain.ParseUserParameters(map[string]any{
		"clearanceLoaded": "abc",
		"et":              "",
		"noiseLevelDb":    "99,5",
	})
	got := engine.ValidateParameters(params, &domain.CriticalParameters{MinClearanceLoaded: f(100), ETRange: &[2]float64{30, 45}, MaxNoiseLevel: f(95)})

	// unparseable values are absent, not zero
	assert.Equal(t, []string{engine.RuleMaxNoise}, domain.RuleIDs(got))
}
