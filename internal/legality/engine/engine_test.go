package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/buildpass/buildpass-backend/internal/legality/catalog"
	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeLookup struct {
	entries []domain.ReferenceEntry
	err     error

	approvalNumber string
	brand          string
	category       domain.Category
	calls          int
}

func (f *fakeLookup) FindCandidates(_ context.Context, approvalNumber, brand string, category domain.Category, _ int) ([]domain.ReferenceEntry, error) {
	f.calls++
	f.approvalNumber, f.brand, f.category = approvalNumber, brand, category
	return f.entries, f.err
}

func newEngine(t *testing.T, refs engine.ReferenceLookup) *engine.Engine {
	t.Helper()
	data, err := catalog.LoadEmbedded()
	require.NoError(t, err)
	return engine.New(data, refs, engine.Options{Now: func() time.Time { return fixedNow }}, nil)
}

func warningTexts(a engine.Assessment) []string {
	out := make([]string, len(a.Warnings))
	for i, w := range a.Warnings {
		out[i] = w.De
	}
	return out
}

func containsText(texts []string, sub string) bool {
	for _, s := range texts {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestAssess_ClearanceBelowMinimumIsIllegal(t *testing.T) {
	e := newEngine(t, nil)

	a := e.Assess(context.Background(), engine.Input{
		Brand:      "KW",
		PartName:   "V3 coilovers",
		Parameters: domain.UserParameters{ClearanceLoaded: f(90)},
	})

	require.NotNil(t, a.BestMatch)
	assert.Equal(t, "KW V3 Coilovers", a.BestMatch.Label)
	assert.Equal(t, domain.ApprovalTeilegutachten, a.ApprovalType)
	require.Len(t, a.Violations, 1)
	assert.Equal(t, engine.RuleMinClearance, a.Violations[0].RuleID)
	assert.Equal(t, domain.SeverityCritical, a.Violations[0].Severity)
	assert.NotEmpty(t, a.Violations[0].LegalReferences)
	assert.Equal(t, domain.StatusIllegal, a.Status)
	assert.True(t, containsText(warningTexts(a), "Auflage: Mindestbodenfreiheit 100 mm"))
}

func TestAssess_NoCandidateIsUnknown(t *testing.T) {
	e := newEngine(t, nil)

	a := e.Assess(context.Background(), engine.Input{Brand: "Eibach", PartName: "Pro-Kit"})

	assert.Nil(t, a.BestMatch)
	assert.Empty(t, a.Suggestions)
	assert.Equal(t, domain.ApprovalNone, a.ApprovalType)
	assert.Equal(t, domain.StatusUnknown, a.Status)
	assert.NotNil(t, a.Violations)
	assert.Empty(t, a.Violations)
}

func TestAssess_RegistrationCertificateIsNotStrongEvidence(t *testing.T) {
	e := newEngine(t, nil)

	for _, doc := range []string{"Fahrzeugschein", "ZB1", "Zulassungsbescheinigung"} {
		ev := domain.ParseEvidenceType(doc)
		assert.False(t, ev.IsStrong(), doc)

		a := e.Assess(context.Background(), engine.Input{
			Brand:    "Akrapovic",
			PartName: "Evolution Line (Titanium)",
			Evidence: []domain.EvidenceType{ev},
		})
		assert.Equal(t, domain.StatusUnknown, a.Status, doc)
	}
}

func TestAssess_CriticalNoiseBeatsGreenAndRegistration(t *testing.T) {
	e := newEngine(t, nil)
	mod := &domain.Modification{
		ID:         "mod-1",
		Brand:      "Remus",
		PartName:   "Sportendschalldämpfer Golf 7 GTI",
		Category:   domain.CategoryExhaust,
		TuvStatus:  domain.TuvGreenRegistered,
		Parameters: domain.UserParameters{NoiseLevelDB: f(99)},
		Approvals:  []domain.ApprovalDocument{{ID: "a1", ApprovalType: domain.EvidenceEintragung}},
	}

	a := e.Assess(context.Background(), engine.InputFromModification(mod))

	require.NotNil(t, a.BestMatch)
	assert.Equal(t, "Remus", a.BestMatch.Entry.Brand)
	assert.Equal(t, []string{engine.RuleMaxNoise}, domain.RuleIDs(a.Violations))
	assert.Equal(t, domain.StatusIllegal, a.Status)
}

func TestAssess_GreenWithoutFindingsIsLegal(t *testing.T) {
	e := newEngine(t, nil)

	a := e.Assess(context.Background(), engine.Input{
		Brand:      "Remus",
		PartName:   "Sportendschalldämpfer Golf 7 GTI",
		TuvStatus:  domain.TuvGreenRegistered,
		Parameters: domain.UserParameters{NoiseLevelDB: f(92)},
	})
	assert.Empty(t, a.Violations)
	assert.Equal(t, domain.StatusFullyLegal, a.Status)
}

func TestAssess_ApprovalNumberHint(t *testing.T) {
	e := newEngine(t, nil)

	a := e.Assess(context.Background(), engine.Input{Brand: "OZ", PartName: "Felge", ApprovalNumber: "43234"})
	assert.Equal(t, "KBA 43234", a.ApprovalNumber)
	require.NotNil(t, a.BestMatch)
	assert.Equal(t, "KBA 43234", a.BestMatch.Entry.ApprovalNumber)
	assert.Equal(t, domain.ApprovalABE, a.ApprovalType)
	assert.Equal(t, domain.StatusUnknown, a.Status)

	a = e.Assess(context.Background(), engine.Input{
		Brand:          "OZ",
		PartName:       "Felge",
		ApprovalNumber: "KBA43234",
		Evidence:       []domain.EvidenceType{domain.EvidenceABE},
	})
	assert.Equal(t, domain.StatusFullyLegal, a.Status)
}

func TestAssess_UnknownHintFallsBackToText(t *testing.T) {
	e := newEngine(t, nil)

	a := e.Assess(context.Background(), engine.Input{Brand: "KW", PartName: "V3 Coilovers", ApprovalNumber: "KBA 99999"})
	require.NotNil(t, a.BestMatch)
	assert.Equal(t, "KW V3 Coilovers", a.BestMatch.Label)
}

func TestAssess_RegionalWarning(t *testing.T) {
	e := newEngine(t, nil)

	a := e.Assess(context.Background(), engine.Input{
		Brand:    "Remus",
		PartName: "Sportendschalldämpfer Golf 7 GTI",
		Category: domain.CategoryExhaust,
		StateID:  "BY",
	})

	require.Len(t, a.RegionalRules, 1)
	assert.Equal(t, "by_exhaust_noise_control", a.RegionalRules[0].ID)
	assert.True(t, strings.HasPrefix(a.Warnings[0].De, "Bayern: Verstärkte Lärmkontrollen"))
	assert.True(t, strings.HasPrefix(a.Warnings[0].En, "Bayern: Increased noise checks"))
	// a warning rule never becomes a violation
	assert.Empty(t, a.Violations)
	assert.Equal(t, domain.StatusUnknown, a.Status)
}

func TestAssess_CriticalRegionalRule(t *testing.T) {
	rules, err := catalog.ParseRegionalRules(strings.NewReader(`{"version":"t","states":{"BY":{"exhaust":[
		{"id":"flap_exhaust","severity":"critical","nameDe":"Klappenauspuff","nameEn":"Valved exhaust","descriptionDe":"Verboten","descriptionEn":"Prohibited"},
		{"id":"noise_checks","severity":"info","nameDe":"Kontrollen","nameEn":"Checks"}
	]}}}`))
	require.NoError(t, err)
	citations, err := catalog.ParseCitations(strings.NewReader(`{"regional_flap_exhaust":[{"lawId":"stvzo_49","section":"§ 49"}]}`))
	require.NoError(t, err)
	data := &catalog.Data{
		Catalog: catalog.NewCatalog("t", []domain.ReferenceEntry{
			{Brand: "Acme", PartName: "Flap Exhaust", Category: domain.CategoryExhaust, ApprovalType: domain.ApprovalABE},
		}),
		Regional:  rules,
		Citations: citations,
	}
	e := engine.New(data, nil, engine.Options{}, nil)

	a := e.Assess(context.Background(), engine.Input{
		Brand:     "Acme",
		PartName:  "Flap Exhaust",
		Category:  domain.CategoryExhaust,
		StateID:   "DE-BY",
		TuvStatus: domain.TuvGreenRegistered,
	})

	require.Len(t, a.RegionalRules, 2)
	require.Len(t, a.Warnings, 2)
	assert.Equal(t, []string{"regional_flap_exhaust"}, domain.RuleIDs(a.Violations))
	assert.Equal(t, "§ 49", a.Violations[0].LegalReferences[0].Section)
	assert.Equal(t, domain.StatusIllegal, a.Status)
}

func TestAssess_NoStateNoOverlay(t *testing.T) {
	e := newEngine(t, nil)

	a := e.Assess(context.Background(), engine.Input{Brand: "Remus", PartName: "Sportendschalldämpfer", Category: domain.CategoryExhaust})
	assert.Empty(t, a.RegionalRules)

	a = e.Assess(context.Background(), engine.Input{Brand: "Unknown", PartName: "Part", StateID: "BY"})
	assert.Empty(t, a.RegionalRules)

	// a matched exhaust entry does not stand in for the missing category
	a = e.Assess(context.Background(), engine.Input{Brand: "Remus", PartName: "Sportendschalldämpfer Golf 7 GTI", StateID: "BY"})
	require.NotNil(t, a.BestMatch)
	assert.Equal(t, domain.CategoryExhaust, a.BestMatch.Entry.Category)
	assert.Empty(t, a.RegionalRules)
	assert.Empty(t, a.Warnings)
}

func TestAssess_MatchWarnings(t *testing.T) {
	e := newEngine(t, nil)

	expired := e.Assess(context.Background(), engine.Input{Brand: "Wiechers", PartName: "Clubsport Überrollbügel"})
	assert.True(t, containsText(warningTexts(expired), "2024-12-31"))

	synthetic := e.Assess(context.Background(), engine.Input{Brand: "APR", PartName: "Stage 1 Software"})
	assert.True(t, containsText(warningTexts(synthetic), "nicht aus einer Primärquelle"))
	assert.Equal(t, domain.StatusInspectionRequired, synthetic.Status)

	year := e.Assess(context.Background(), engine.Input{
		Brand:    "KW",
		PartName: "V3 Coilovers",
		Vehicle:  &catalog.VehicleFilter{Make: "VW", Model: "Golf", Year: 2022},
	})
	assert.True(t, containsText(warningTexts(year), "2022"))
}

func TestAssess_OverlayEntryWinsOverStaticCopy(t *testing.T) {
	overlay := domain.ReferenceEntry{
		Brand:                "KW",
		PartName:             "V3 Coilovers",
		Category:             domain.CategorySuspension,
		Subcategory:          "coilovers",
		ApprovalType:         domain.ApprovalTeilegutachten,
		ApprovalNumber:       "TGA 55-0107-00",
		SourceID:             domain.SourceManufacturer,
		SourceURL:            "https://www.kwsuspensions.de/gutachten",
		VehicleCompatibility: "VW Golf 7 (5G) 2012-2020",
		CriticalParameters:   &domain.CriticalParameters{MinClearanceLoaded: f(110)},
		UpdatedAt:            fixedNow.Add(-time.Hour),
	}
	refs := &fakeLookup{entries: []domain.ReferenceEntry{overlay}}
	e := newEngine(t, refs)

	a := e.Assess(context.Background(), engine.Input{
		Brand:      "KW",
		PartName:   "V3 Coilovers",
		Category:   domain.CategorySuspension,
		Parameters: domain.UserParameters{ClearanceLoaded: f(105)},
	})

	assert.Equal(t, 1, refs.calls)
	assert.Equal(t, "KW", refs.brand)
	assert.Equal(t, domain.CategorySuspension, refs.category)
	require.Len(t, a.DBMatches, 1)
	require.NotNil(t, a.BestMatch)
	assert.Equal(t, overlay.Fingerprint(), a.BestMatch.Fingerprint())
	assert.Equal(t, 110.0, *a.BestMatch.Entry.CriticalParameters.MinClearanceLoaded)
	assert.Equal(t, []string{engine.RuleMinClearance}, domain.RuleIDs(a.Violations))
}

func TestAssess_OverlayOnlyEntry(t *testing.T) {
	refs := &fakeLookup{entries: []domain.ReferenceEntry{{
		Brand:        "Eibach",
		PartName:     "Pro-Kit",
		Category:     domain.CategorySuspension,
		ApprovalType: domain.ApprovalABE,
		SourceID:     domain.SourceKBA,
	}}}
	e := newEngine(t, refs)

	a := e.Assess(context.Background(), engine.Input{Brand: "Eibach", PartName: "Pro-Kit", Category: domain.CategorySuspension})
	assert.Empty(t, a.Suggestions)
	require.NotNil(t, a.BestMatch)
	assert.Equal(t, "Eibach Pro-Kit", a.BestMatch.Label)
	assert.Equal(t, domain.ApprovalABE, a.ApprovalType)
	assert.Equal(t, domain.StatusUnknown, a.Status)
}

func TestAssess_OverlayFailureDegrades(t *testing.T) {
	refs := &fakeLookup{err: errors.New("connection refused")}
	e := newEngine(t, refs)

	a := e.Assess(context.Background(), engine.Input{
		Brand:      "KW",
		PartName:   "V3 coilovers",
		Parameters: domain.UserParameters{ClearanceLoaded: f(90)},
	})

	assert.Equal(t, []string{engine.SourceReferenceOverlay}, a.Degraded)
	assert.Equal(t, domain.StatusIllegal, a.Status)
	all := a.AllWarnings()
	assert.Len(t, all, len(a.Warnings)+1)
	assert.Contains(t, all[len(all)-1].En, engine.SourceReferenceOverlay)
}

func TestAssess_Deterministic(t *testing.T) {
	e := newEngine(t, nil)
	in := engine.Input{
		Brand:      "H&R",
		PartName:   "Sportfedern",
		StateID:    "BY",
		Parameters: domain.UserParameters{ClearanceLoaded: f(95), TrackWidthChange: f(30)},
	}

	first := e.Assess(context.Background(), in)
	for i := 0; i < 3; i++ {
		again := e.Assess(context.Background(), in)
		require.NotNil(t, again.BestMatch)
		assert.Equal(t, first.BestMatch.Fingerprint(), again.BestMatch.Fingerprint())
		assert.Equal(t, first.Status, again.Status)
		assert.Equal(t, first.Violations, again.Violations)
		assert.Equal(t, first.Warnings, again.Warnings)
	}
}

func TestRegionalOverlay(t *testing.T) {
	rules := []domain.RegionalRule{
		{ID: "a", StateID: "HH", Severity: domain.SeverityCritical, NameDe: "Name", DescriptionDe: "Beschreibung"},
		{ID: "a", StateID: "HH", Severity: domain.SeverityCritical, NameDe: "Name", DescriptionDe: "Beschreibung"},
		{ID: "b", StateID: "HH", Severity: domain.SeverityWarning, NameDe: "Zweite", NameEn: "Second"},
	}

	o := engine.RegionalOverlay(rules)
	assert.Len(t, o.Rules, 2)
	assert.Len(t, o.Warnings, 2)
	assert.Equal(t, []string{"regional_a"}, domain.RuleIDs(o.Violations))
	assert.Equal(t, "Hamburg: Name (Beschreibung)", o.Warnings[0].De)
	// English falls back to German text
	assert.Equal(t, "Hamburg: Name (Beschreibung)", o.Warnings[0].En)
	assert.Contains(t, o.Warnings[1].En, "Second")

	assert.Empty(t, engine.RegionalOverlay(nil).Rules)
}

func TestMergeCandidates(t *testing.T) {
	q := catalog.Query{Text: "acme", Limit: 2}
	static := catalog.NewCatalog("t", []domain.ReferenceEntry{
		{Brand: "Acme", PartName: "One", Category: domain.CategoryAero, IsSynthetic: true},
		{Brand: "Acme", PartName: "Two", Category: domain.CategoryAero},
	}).Match(q)

	dbEntry := domain.ReferenceEntry{Brand: "Acme", PartName: "One", Category: domain.CategoryAero, IsSynthetic: true, UpdatedAt: fixedNow}
	dbOnly := domain.ReferenceEntry{Brand: "Acme", PartName: "Three", Category: domain.CategoryAero}
	var overlay []catalog.Match
	for _, e := range []domain.ReferenceEntry{dbEntry, dbOnly} {
		m, ok := catalog.RankEntry(q, e)
		require.True(t, ok)
		overlay = append(overlay, m)
	}

	merged := engine.MergeCandidates(q, static, overlay)
	require.Len(t, merged, 2)
	// primary sourced entries first; the synthetic one is cut by the limit
	assert.Equal(t, "Acme Two", merged[0].Label)
	assert.Equal(t, "Acme Three", merged[1].Label)

	q.Limit = 5
	merged = engine.MergeCandidates(q, static, overlay)
	require.Len(t, merged, 3)
	assert.Equal(t, "Acme One", merged[2].Label)
	assert.Equal(t, fixedNow, merged[2].Entry.UpdatedAt)
}
