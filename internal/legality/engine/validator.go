package engine

import (
	"math"
	"strconv"
	"strings"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/pkg/i18n"
)

// Rule ids of the parameter checks
const (
	RuleMinClearance   = "min_clearance"
	RuleETRange        = "et_range"
	RuleTrackWidth     = "track_width_change"
	RuleMaxNoise       = "max_noise"
	RegionalRulePrefix = "regional_"
)

// TrackWidthLimitMM is the largest per-axle track width change accepted without a finding
const TrackWidthLimitMM = 20.0

// ValidateParameters compares declared values with the thresholds of the
// matched entry. A check only runs when both sides are present. The track
// width limit is a fixed policy value and does not need a threshold.
func ValidateParameters(p domain.UserParameters, c *domain.CriticalParameters) []domain.Violation {
	var out []domain.Violation

	if c != nil {
		if p.ClearanceLoaded != nil && c.MinClearanceLoaded != nil && *p.ClearanceLoaded < *c.MinClearanceLoaded {
			out = append(out, violation(RuleMinClearance, domain.SeverityCritical, "violations.min_clearance", map[string]float64{
				"value": *p.ClearanceLoaded,
				"limit": *c.MinClearanceLoaded,
			}))
		}
		if p.ET != nil && c.ETRange != nil && (*p.ET < c.ETRange[0] || *p.ET > c.ETRange[1]) {
			out = append(out, violation(RuleETRange, domain.SeverityWarning, "violations.et_range", map[string]float64{
				"value": *p.ET,
				"min":   c.ETRange[0],
				"max":   c.ETRange[1],
			}))
		}
	}

	if p.TrackWidthChange != nil && math.Abs(*p.TrackWidthChange) > TrackWidthLimitMM {
		out = append(out, violation(RuleTrackWidth, domain.SeverityWarning, "violations.track_width_change", map[string]float64{
			"value": math.Abs(*p.TrackWidthChange),
			"limit": TrackWidthLimitMM,
		}))
	}

	if c != nil && p.NoiseLevelDB != nil && c.MaxNoiseLevel != nil && *p.NoiseLevelDB > *c.MaxNoiseLevel {
		out = append(out, violation(RuleMaxNoise, domain.SeverityCritical, "violations.max_noise", map[string]float64{
			"value": *p.NoiseLevelDB,
			"limit": *c.MaxNoiseLevel,
		}))
	}
	return out
}

func violation(ruleID string, severity domain.Severity, key string, values map[string]float64) domain.Violation {
	de := make(map[string]string, len(values))
	en := make(map[string]string, len(values))
	for k, v := range values {
		de[k] = formatNumber(v, i18n.LocaleGerman)
		en[k] = formatNumber(v, i18n.LocaleEnglish)
	}
	msg := bilingual(key, de, en)
	return domain.Violation{
		RuleID:    ruleID,
		Severity:  severity,
		MessageDe: msg.De,
		MessageEn: msg.En,
	}
}

// formatNumber prints the shortest exact form; German uses a decimal comma
func formatNumber(v float64, locale string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if locale == i18n.LocaleGerman {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

// bilingual renders one message key in both languages
func bilingual(key string, de, en map[string]string) domain.Message {
	return domain.Message{
		De: i18n.TWithLocale(i18n.LocaleGerman, key, de),
		En: i18n.TWithLocale(i18n.LocaleEnglish, key, en),
	}
}
