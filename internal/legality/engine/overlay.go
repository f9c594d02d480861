package engine

import (
	"github.com/buildpass/buildpass-backend/internal/legality/catalog"
	"github.com/buildpass/buildpass-backend/internal/legality/domain"
)

// Overlay is the regional contribution to one assessment
type Overlay struct {
	Rules      []domain.RegionalRule
	Violations []domain.Violation
	Warnings   []domain.Message
}

// RegionalOverlay turns applicable rules into warnings. Critical rules also
// become violations with the id prefixed by "regional_".
func RegionalOverlay(rules []domain.RegionalRule) Overlay {
	var o Overlay
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		o.Rules = append(o.Rules, r)

		state := catalog.StateName(r.StateID)
		o.Warnings = append(o.Warnings, bilingual("warnings.regional_rule",
			map[string]string{"state": state, "name": r.NameDe, "description": r.DescriptionDe},
			map[string]string{"state": state, "name": fallback(r.NameEn, r.NameDe), "description": fallback(r.DescriptionEn, r.DescriptionDe)},
		))

		if r.Severity == domain.SeverityCritical {
			msg := bilingual("violations.regional",
				map[string]string{"state": state, "name": r.NameDe, "description": r.DescriptionDe},
				map[string]string{"state": state, "name": fallback(r.NameEn, r.NameDe), "description": fallback(r.DescriptionEn, r.DescriptionDe)},
			)
			o.Violations = append(o.Violations, domain.Violation{
				RuleID:    RegionalRulePrefix + r.ID,
				Severity:  domain.SeverityCritical,
				MessageDe: msg.De,
				MessageEn: msg.En,
			})
		}
	}
	return o
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
