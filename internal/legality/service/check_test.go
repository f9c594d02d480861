package service_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildpass/buildpass-backend/internal/legality/catalog"
	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/buildpass/buildpass-backend/internal/legality/service"
	apperrors "github.com/buildpass/buildpass-backend/pkg/errors"
	"github.com/buildpass/buildpass-backend/pkg/i18n"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	data, err := catalog.LoadEmbedded()
	require.NoError(t, err)
	return engine.New(data, nil, engine.Options{Now: func() time.Time { return fixedNow }}, nil)
}

func f(v float64) *float64 { return &v }

type fakeProofs struct {
	mu     sync.Mutex
	proofs []domain.CommunityProof
	err    error
	calls  int
}

func (p *fakeProofs) FindApproved(_ context.Context, _, _ string, _ int) ([]domain.CommunityProof, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.proofs, p.err
}

type memoryCache struct {
	entries       map[string][]byte
	sets          int
	generation    int64
	generationErr error
}

func newMemoryCache() *memoryCache { return &memoryCache{entries: map[string][]byte{}} }

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, payload []byte) error {
	c.sets++
	c.entries[key] = payload
	return nil
}

func (c *memoryCache) Generation(context.Context) (int64, error) {
	return c.generation, c.generationErr
}

func english() context.Context {
	return i18n.WithLocale(context.Background(), i18n.LocaleEnglish)
}

func contains(texts []string, sub string) bool {
	for _, s := range texts {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestCheck_RequiresBrandAndPart(t *testing.T) {
	svc := service.NewCheckService(newEngine(t), nil, nil, nil, service.CheckOptions{}, nil)

	for _, req := range []service.CheckRequest{
		{PartName: "V3 Coilovers"},
		{Brand: "KW", PartName: "   "},
	} {
		resp, err := svc.Check(context.Background(), req)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.Equal(t, http.StatusBadRequest, apperrors.StatusCode(err))
	}
}

func TestCheck_ClearanceViolation(t *testing.T) {
	svc := service.NewCheckService(newEngine(t), &fakeProofs{}, nil, nil, service.CheckOptions{}, nil)

	resp, err := svc.Check(english(), service.CheckRequest{
		Brand:      "KW",
		PartName:   "V3 coilovers",
		Parameters: domain.UserParameters{ClearanceLoaded: f(90)},
	})
	require.NoError(t, err)

	require.NotNil(t, resp.BestMatch)
	assert.Equal(t, "KW V3 Coilovers", resp.BestMatch.Label)
	assert.Equal(t, domain.ApprovalTeilegutachten, resp.ApprovalType)
	assert.Equal(t, domain.StatusIllegal, resp.LegalityStatus)
	require.Len(t, resp.Violations, 1)
	assert.Equal(t, "min_clearance", resp.Violations[0].RuleID)
	require.NotNil(t, resp.UserParameters)
	assert.Equal(t, 90.0, *resp.UserParameters.ClearanceLoaded)
	assert.Equal(t, []string{i18n.TWithLocale("en", "next_steps.resolve_violations")}, resp.NextSteps)
	assert.Equal(t, i18n.TWithLocale("en", "disclaimer.title"), resp.Disclaimer.Title)
	assert.NotEmpty(t, resp.Disclaimer.Body)
}

func TestCheck_NoMatchIsUnknown(t *testing.T) {
	svc := service.NewCheckService(newEngine(t), &fakeProofs{}, nil, nil, service.CheckOptions{}, nil)

	resp, err := svc.Check(context.Background(), service.CheckRequest{Brand: "Eibach", PartName: "Pro-Kit"})
	require.NoError(t, err)

	assert.Nil(t, resp.BestMatch)
	assert.Equal(t, domain.ApprovalNone, resp.ApprovalType)
	assert.Equal(t, domain.StatusUnknown, resp.LegalityStatus)
	assert.NotNil(t, resp.Violations)
	assert.Empty(t, resp.Violations)
	assert.NotNil(t, resp.Suggestions)
	assert.NotNil(t, resp.CommunityProofs)
	assert.Nil(t, resp.UserParameters)
	assert.Equal(t, []string{i18n.TWithLocale("de", "next_steps.find_approval")}, resp.NextSteps)
}

func TestCheck_ApprovalWithoutDocumentAsksForUpload(t *testing.T) {
	svc := service.NewCheckService(newEngine(t), nil, nil, nil, service.CheckOptions{}, nil)

	resp, err := svc.Check(english(), service.CheckRequest{
		Brand:          "OZ Racing",
		PartName:       "Ultraleggera",
		ApprovalNumber: "43234",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.BestMatch)
	assert.Equal(t, "KBA 43234", resp.BestMatch.Entry.ApprovalNumber)
	assert.Equal(t, domain.StatusUnknown, resp.LegalityStatus)
	assert.Equal(t, []string{i18n.TWithLocale("en", "next_steps.upload_document", map[string]string{"approvalType": "ABE"})}, resp.NextSteps)

	resp, err = svc.Check(english(), service.CheckRequest{
		Brand:          "OZ Racing",
		PartName:       "Ultraleggera",
		ApprovalNumber: "43234",
		Evidence:       []string{"abe"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFullyLegal, resp.LegalityStatus)
	assert.Contains(t, resp.NextSteps, i18n.TWithLocale("en", "next_steps.keep_documents", map[string]string{"approvalType": "ABE"}))
	assert.Contains(t, resp.NextSteps, i18n.TWithLocale("en", "next_steps.check_restrictions"))
}

func TestCheck_RegionalRulesAreWarnings(t *testing.T) {
	svc := service.NewCheckService(newEngine(t), nil, nil, nil, service.CheckOptions{}, nil)

	resp, err := svc.Check(context.Background(), service.CheckRequest{
		Brand:    "Remus",
		PartName: "Sportendschalldämpfer",
		Category: "exhaust",
		StateID:  "BY",
	})
	require.NoError(t, err)

	assert.True(t, contains(resp.Warnings, "Verstärkte Lärmkontrollen"))
	assert.Contains(t, resp.NextSteps, i18n.TWithLocale("de", "next_steps.regional", map[string]string{"state": catalog.StateName("BY")}))
	for _, v := range resp.Violations {
		assert.NotEqual(t, "regional_by_exhaust_noise_control", v.RuleID, "warning-level rules do not become violations")
	}
}

func TestCheck_CommunityProofs(t *testing.T) {
	proofs := &fakeProofs{proofs: []domain.CommunityProof{
		{ID: "p1", Brand: "KW", PartName: "V3 Coilovers", EvidenceType: domain.EvidenceEintragung, ApprovedAt: fixedNow},
	}}
	svc := service.NewCheckService(newEngine(t), proofs, nil, nil, service.CheckOptions{}, nil)

	resp, err := svc.Check(context.Background(), service.CheckRequest{Brand: "KW", PartName: "V3 Coilovers"})
	require.NoError(t, err)
	require.Len(t, resp.CommunityProofs, 1)
	assert.Equal(t, "p1", resp.CommunityProofs[0].ID)
}

func TestCheck_ProofFailureDegrades(t *testing.T) {
	proofs := &fakeProofs{err: errors.New("connection refused")}
	results := newMemoryCache()
	svc := service.NewCheckService(newEngine(t), proofs, results, nil, service.CheckOptions{}, nil)

	resp, err := svc.Check(english(), service.CheckRequest{Brand: "KW", PartName: "V3 Coilovers"})
	require.NoError(t, err)

	assert.Empty(t, resp.CommunityProofs)
	assert.NotNil(t, resp.CommunityProofs)
	assert.True(t, contains(resp.Warnings, engine.SourceCommunityProofs))
	assert.Equal(t, domain.StatusRegistrationRequired, resp.LegalityStatus)
	assert.Zero(t, results.sets, "degraded responses are not cached")
}

func TestCheck_CachesByLocale(t *testing.T) {
	proofs := &fakeProofs{}
	results := newMemoryCache()
	svc := service.NewCheckService(newEngine(t), proofs, results, nil, service.CheckOptions{}, nil)
	req := service.CheckRequest{Brand: "KW", PartName: "V3 Coilovers", Parameters: domain.UserParameters{ClearanceLoaded: f(120)}}

	first, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, results.sets)

	second, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, proofs.calls)
	assert.Equal(t, first.LegalityStatus, second.LegalityStatus)
	assert.Equal(t, first.NextSteps, second.NextSteps)
	assert.Equal(t, first.BestMatch.Label, second.BestMatch.Label)

	_, err = svc.Check(english(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, proofs.calls)
	assert.Equal(t, 2, results.sets)
}

func TestCheck_OverlayImportInvalidatesCache(t *testing.T) {
	proofs := &fakeProofs{}
	results := newMemoryCache()
	svc := service.NewCheckService(newEngine(t), proofs, results, nil, service.CheckOptions{}, nil)
	req := service.CheckRequest{Brand: "KW", PartName: "V3 Coilovers"}

	_, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, proofs.calls)

	// an import advances the generation, so the next check is assessed afresh
	results.generation++
	_, err = svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, proofs.calls)
	assert.Equal(t, 2, results.sets)
	assert.Len(t, results.entries, 2)
}

func TestCheck_GenerationErrorBypassesCache(t *testing.T) {
	proofs := &fakeProofs{}
	results := newMemoryCache()
	results.generationErr = errors.New("redis: connection refused")
	svc := service.NewCheckService(newEngine(t), proofs, results, nil, service.CheckOptions{}, nil)
	req := service.CheckRequest{Brand: "KW", PartName: "V3 Coilovers"}

	for i := 0; i < 2; i++ {
		resp, err := svc.Check(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRegistrationRequired, resp.LegalityStatus)
	}
	assert.Equal(t, 2, proofs.calls)
	assert.Zero(t, results.sets)
}

func TestNextSteps(t *testing.T) {
	loc := i18n.NewLocalizer("en")
	tests := []struct {
		name string
		in   engine.Input
		a    engine.Assessment
		want []string
	}{
		{
			name: "racing part",
			in:   engine.Input{TuvStatus: domain.TuvRedRacing},
			a:    engine.Assessment{Status: domain.StatusIllegal},
			want: []string{loc.T("next_steps.racing_only")},
		},
		{
			name: "teilegutachten",
			a:    engine.Assessment{Status: domain.StatusRegistrationRequired},
			want: []string{loc.T("next_steps.registration")},
		},
		{
			name: "individual inspection",
			a:    engine.Assessment{Status: domain.StatusInspectionRequired},
			want: []string{loc.T("next_steps.inspection")},
		},
		{
			name: "registered without match",
			in:   engine.Input{TuvStatus: domain.TuvGreenRegistered},
			a:    engine.Assessment{Status: domain.StatusFullyLegal, ApprovalType: domain.ApprovalNone},
			want: []string{loc.T("next_steps.keep_documents", map[string]string{"approvalType": "EINTRAGUNG"})},
		},
		{
			name: "strong evidence named",
			in:   engine.Input{Evidence: []domain.EvidenceType{domain.EvidenceEinzelabnahme}},
			a:    engine.Assessment{Status: domain.StatusFullyLegal},
			want: []string{loc.T("next_steps.keep_documents", map[string]string{"approvalType": "EINZELABNAHME"})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.NextSteps(loc, tt.in, &tt.a))
		})
	}
}
