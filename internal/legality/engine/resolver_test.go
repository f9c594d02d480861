package engine_test

import (
	"testing"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/stretchr/testify/assert"
)

var (
	tuvStatuses   = []domain.TuvStatus{"", domain.TuvGreenRegistered, domain.TuvYellowABE, domain.TuvRedRacing}
	approvalTypes = []domain.ApprovalType{
		"", domain.ApprovalNone, domain.ApprovalABE, domain.ApprovalABG, domain.ApprovalEBE, domain.ApprovalECE,
		domain.ApprovalTeilegutachten, domain.ApprovalEinzelabnahme21, domain.ApprovalEintragungspflichtig,
	}
	evidenceSets = [][]domain.EvidenceType{
		nil,
		{domain.EvidenceABE},
		{domain.EvidenceTeilegutachten, domain.EvidenceOther},
		{domain.EvidenceEintragung},
		{domain.EvidenceEinzelabnahme},
	}
	critical = domain.Violation{RuleID: engine.RuleMaxNoise, Severity: domain.SeverityCritical}
	warning  = domain.Violation{RuleID: engine.RuleETRange, Severity: domain.SeverityWarning}
)

func TestResolve_DecisionChain(t *testing.T) {
	tests := []struct {
		name string
		in   engine.ResolveInput
		want domain.LegalityStatus
	}{
		{"green declaration", engine.ResolveInput{TuvStatus: domain.TuvGreenRegistered}, domain.StatusFullyLegal},
		{"red declaration", engine.ResolveInput{TuvStatus: domain.TuvRedRacing, MatchedApprovalType: domain.ApprovalABE, Evidence: []domain.EvidenceType{domain.EvidenceEintragung}}, domain.StatusIllegal},
		{"eintragung on file", engine.ResolveInput{Evidence: []domain.EvidenceType{domain.EvidenceEintragung}}, domain.StatusFullyLegal},
		{"einzelabnahme on file", engine.ResolveInput{Evidence: []domain.EvidenceType{domain.EvidenceEinzelabnahme}, MatchedApprovalType: domain.ApprovalTeilegutachten}, domain.StatusFullyLegal},
		{"no match", engine.ResolveInput{}, domain.StatusUnknown},
		{"match without approval", engine.ResolveInput{MatchedApprovalType: domain.ApprovalNone}, domain.StatusUnknown},
		{"teilegutachten", engine.ResolveInput{MatchedApprovalType: domain.ApprovalTeilegutachten}, domain.StatusRegistrationRequired},
		{"einzelabnahme needed", engine.ResolveInput{MatchedApprovalType: domain.ApprovalEinzelabnahme21}, domain.StatusInspectionRequired},
		{"eintragungspflichtig", engine.ResolveInput{MatchedApprovalType: domain.ApprovalEintragungspflichtig}, domain.StatusInspectionRequired},
		{"abe without paperwork", engine.ResolveInput{MatchedApprovalType: domain.ApprovalABE}, domain.StatusUnknown},
		{"abe with other paperwork", engine.ResolveInput{MatchedApprovalType: domain.ApprovalABE, Evidence: []domain.EvidenceType{domain.EvidenceABG}}, domain.StatusUnknown},
		{"abe with abe", engine.ResolveInput{MatchedApprovalType: domain.ApprovalABE, Evidence: []domain.EvidenceType{domain.EvidenceABE}}, domain.StatusFullyLegal},
		{"abg with abg", engine.ResolveInput{MatchedApprovalType: domain.ApprovalABG, Evidence: []domain.EvidenceType{domain.EvidenceABG}}, domain.StatusFullyLegal},
		{"ece with ece", engine.ResolveInput{MatchedApprovalType: domain.ApprovalECE, Evidence: []domain.EvidenceType{domain.EvidenceECE}}, domain.StatusFullyLegal},
		{"ebe with ebe", engine.ResolveInput{MatchedApprovalType: domain.ApprovalEBE, Evidence: []domain.EvidenceType{domain.EvidenceEBE}}, domain.StatusFullyLegal},
		{"yellow declaration is not proof", engine.ResolveInput{TuvStatus: domain.TuvYellowABE, MatchedApprovalType: domain.ApprovalABE}, domain.StatusUnknown},
		{"warnings do not change status", engine.ResolveInput{MatchedApprovalType: domain.ApprovalTeilegutachten, Violations: []domain.Violation{warning}}, domain.StatusRegistrationRequired},
		{"critical beats green", engine.ResolveInput{TuvStatus: domain.TuvGreenRegistered, Violations: []domain.Violation{critical}}, domain.StatusIllegal},
		{"critical beats strong evidence", engine.ResolveInput{Evidence: []domain.EvidenceType{domain.EvidenceEintragung}, Violations: []domain.Violation{warning, critical}}, domain.StatusIllegal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Resolve(tt.in))
		})
	}
}

// every combination of the other inputs
func forAllInputs(fn func(engine.ResolveInput)) {
	for _, tuv := range tuvStatuses {
		for _, at := range approvalTypes {
			for _, ev := range evidenceSets {
				fn(engine.ResolveInput{TuvStatus: tuv, MatchedApprovalType: at, Evidence: ev})
			}
		}
	}
}

func TestResolve_CriticalAlwaysIllegal(t *testing.T) {
	forAllInputs(func(in engine.ResolveInput) {
		in.Violations = []domain.Violation{warning, critical}
		assert.Equal(t, domain.StatusIllegal, engine.Resolve(in), "%+v", in)
	})
}

func TestResolve_GreenWithoutCriticalIsLegal(t *testing.T) {
	forAllInputs(func(in engine.ResolveInput) {
		if in.TuvStatus != domain.TuvGreenRegistered {
			return
		}
		in.Violations = []domain.Violation{warning}
		assert.Equal(t, domain.StatusFullyLegal, engine.Resolve(in), "%+v", in)
	})
}

func TestResolve_RedIsAlwaysIllegal(t *testing.T) {
	forAllInputs(func(in engine.ResolveInput) {
		if in.TuvStatus != domain.TuvRedRacing {
			return
		}
		assert.Equal(t, domain.StatusIllegal, engine.Resolve(in), "%+v", in)
	})
}

func TestResolve_AlwaysOneOfFive(t *testing.T) {
	forAllInputs(func(in engine.ResolveInput) {
		assert.True(t, engine.Resolve(in).IsValid())
	})
}
