package engine

import (
	"github.com/buildpass/buildpass-backend/internal/legality/domain"
)

// ResolveInput carries every signal the status decision looks at
type ResolveInput struct {
	TuvStatus domain.TuvStatus
	// Evidence holds the types of attached documents and structured approvals
	Evidence []domain.EvidenceType
	// MatchedApprovalType is empty when no reference entry matched
	MatchedApprovalType domain.ApprovalType
	Violations          []domain.Violation
}

// Resolve applies the decision chain. The first applicable rule wins, then
// any critical violation forces ILLEGAL.
func Resolve(in ResolveInput) domain.LegalityStatus {
	status := resolveChain(in)
	if domain.HasCritical(in.Violations) {
		return domain.StatusIllegal
	}
	return status
}

func resolveChain(in ResolveInput) domain.LegalityStatus {
	// 1. and 2. the user's declaration
	switch in.TuvStatus {
	case domain.TuvGreenRegistered:
		return domain.StatusFullyLegal
	case domain.TuvRedRacing:
		return domain.StatusIllegal
	}

	// 3. registration or individual inspection already on file
	for _, e := range in.Evidence {
		if e.IsStrong() {
			return domain.StatusFullyLegal
		}
	}

	// 4. to 8. the matched approval regime
	switch at := in.MatchedApprovalType.OrNone(); at {
	case domain.ApprovalNone:
		return domain.StatusUnknown
	case domain.ApprovalTeilegutachten:
		return domain.StatusRegistrationRequired
	case domain.ApprovalEinzelabnahme21, domain.ApprovalEintragungspflichtig:
		return domain.StatusInspectionRequired
	case domain.ApprovalABE, domain.ApprovalABG, domain.ApprovalECE, domain.ApprovalEBE:
		// the approval exists, but only the matching paperwork proves the user has it
		if want, ok := at.EvidenceType(); ok && hasEvidence(in.Evidence, want) {
			return domain.StatusFullyLegal
		}
		return domain.StatusUnknown
	}
	return domain.StatusUnknown
}

func hasEvidence(evidence []domain.EvidenceType, want domain.EvidenceType) bool {
	for _, e := range evidence {
		if e == want {
			return true
		}
	}
	return false
}
