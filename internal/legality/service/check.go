package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/buildpass/buildpass-backend/internal/legality/cache"
	"github.com/buildpass/buildpass-backend/internal/legality/catalog"
	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/buildpass/buildpass-backend/internal/legality/metrics"
	"github.com/buildpass/buildpass-backend/pkg/errors"
	"github.com/buildpass/buildpass-backend/pkg/i18n"
	"github.com/buildpass/buildpass-backend/pkg/logger"
)

// DefaultProofLimit caps community proofs per check
const DefaultProofLimit = 5

// ProofFinder looks up approved community evidence for a part
type ProofFinder interface {
	FindApproved(ctx context.Context, brand, partName string, limit int) ([]domain.CommunityProof, error)
}

// ResultCache stores rendered check responses
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte) error
	// Generation changes whenever the reference overlay is reimported
	Generation(ctx context.Context) (int64, error)
}

// CheckRequest carries the query of an interactive check. Numeric hints are
// parsed by the caller; unparseable values are absent.
type CheckRequest struct {
	Brand          string                `query:"brand" validate:"notblank"`
	PartName       string                `query:"partName" validate:"notblank"`
	Category       string                `query:"category"`
	ApprovalNumber string                `query:"approvalNumber"`
	Make           string                `query:"make"`
	Model          string                `query:"model"`
	Year           int                   `query:"year"`
	StateID        string                `query:"stateId"`
	TuvStatus      string                `query:"tuvStatus"`
	Evidence       []string              `query:"evidence"`
	Parameters     domain.UserParameters `query:"-"`
}

// Disclaimer is attached to every check response
type Disclaimer struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// CheckResponse is the body of GET /api/v1/legality/check
type CheckResponse struct {
	BestMatch       *catalog.Match          `json:"bestMatch"`
	Suggestions     []catalog.Match         `json:"suggestions"`
	DBMatches       []catalog.Match         `json:"dbMatches"`
	CommunityProofs []domain.CommunityProof `json:"communityProofs"`
	ApprovalType    domain.ApprovalType     `json:"approvalType"`
	LegalityStatus  domain.LegalityStatus   `json:"legalityStatus"`
	Violations      []domain.Violation      `json:"violations"`
	UserParameters  *domain.UserParameters  `json:"userParameters"`
	NextSteps       []string                `json:"nextSteps"`
	Warnings        []string                `json:"warnings"`
	Disclaimer      Disclaimer              `json:"disclaimer"`
}

// CheckOptions tunes the check service
type CheckOptions struct {
	ProofLimit int
}

// CheckService runs read-only assessments for ad-hoc queries. Nothing is persisted.
type CheckService struct {
	engine     *engine.Engine
	proofs     ProofFinder
	cache      ResultCache
	metrics    *metrics.Metrics
	proofLimit int
	logger     *logger.Logger
}

// NewCheckService creates a check service. proofs, results and m may be nil.
func NewCheckService(eng *engine.Engine, proofs ProofFinder, results ResultCache, m *metrics.Metrics, opts CheckOptions, log *logger.Logger) *CheckService {
	if opts.ProofLimit <= 0 {
		opts.ProofLimit = DefaultProofLimit
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CheckService{
		engine:     eng,
		proofs:     proofs,
		cache:      results,
		metrics:    m,
		proofLimit: opts.ProofLimit,
		logger:     log.WithComponent("check"),
	}
}

// Input converts the request into engine input
func (r CheckRequest) Input() engine.Input {
	in := engine.Input{
		Brand:          strings.TrimSpace(r.Brand),
		PartName:       strings.TrimSpace(r.PartName),
		ApprovalNumber: r.ApprovalNumber,
		StateID:        catalog.NormalizeStateID(r.StateID),
		Parameters:     r.Parameters,
		TuvStatus:      domain.ParseTuvStatus(r.TuvStatus),
	}
	if c, ok := domain.ParseCategory(r.Category); ok {
		in.Category = c
	}
	if r.Make != "" || r.Model != "" || r.Year > 0 {
		in.Vehicle = &catalog.VehicleFilter{Make: r.Make, Model: r.Model, Year: r.Year}
	}
	for _, e := range r.Evidence {
		if strings.TrimSpace(e) != "" {
			in.Evidence = append(in.Evidence, domain.ParseEvidenceType(e))
		}
	}
	return in
}

// Check assesses the request. Only a blank brand or part name is an error;
// failing lookups reduce the response to what the remaining sources know.
func (s *CheckService) Check(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	if strings.TrimSpace(req.Brand) == "" || strings.TrimSpace(req.PartName) == "" {
		return nil, errors.BadRequest("brand and partName are required").WithKey("errors.missing_brand_part", nil)
	}

	loc := i18n.LocalizerFromContext(ctx)
	in := req.Input()
	key := s.resolveCacheKey(ctx, loc.GetLocale(), in)

	if resp, ok := s.fromCache(ctx, key); ok {
		s.metrics.IncCheck(string(resp.LegalityStatus))
		return resp, nil
	}

	var (
		assessment engine.Assessment
		proofs     []domain.CommunityProof
		proofsErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		assessment = s.engine.Assess(gctx, in)
		return nil
	})
	if s.proofs != nil {
		g.Go(func() error {
			proofs, proofsErr = s.proofs.FindApproved(gctx, in.Brand, in.PartName, s.proofLimit)
			return nil
		})
	}
	_ = g.Wait()

	if proofsErr != nil {
		s.logger.Warn().Err(proofsErr).Str("source", engine.SourceCommunityProofs).Msg("community proof lookup failed")
		assessment.Degraded = append(assessment.Degraded, engine.SourceCommunityProofs)
		proofs = nil
	}

	resp := s.render(loc, in, &assessment, proofs)

	s.metrics.IncCheck(string(resp.LegalityStatus))
	s.metrics.IncDegraded(assessment.Degraded...)
	if len(assessment.Degraded) == 0 {
		s.toCache(ctx, key, resp)
	}
	return resp, nil
}

func (s *CheckService) render(loc *i18n.Localizer, in engine.Input, a *engine.Assessment, proofs []domain.CommunityProof) *CheckResponse {
	resp := &CheckResponse{
		BestMatch:       a.BestMatch,
		Suggestions:     nonNilMatches(a.Suggestions),
		DBMatches:       nonNilMatches(a.DBMatches),
		CommunityProofs: proofs,
		ApprovalType:    a.ApprovalType,
		LegalityStatus:  a.Status,
		Violations:      a.Violations,
		NextSteps:       NextSteps(loc, in, a),
		Warnings:        []string{},
		Disclaimer: Disclaimer{
			Title: loc.T("disclaimer.title"),
			Body:  loc.T("disclaimer.body"),
		},
	}
	if resp.CommunityProofs == nil {
		resp.CommunityProofs = []domain.CommunityProof{}
	}
	if resp.Violations == nil {
		resp.Violations = []domain.Violation{}
	}
	if !in.Parameters.IsEmpty() {
		p := in.Parameters
		resp.UserParameters = &p
	}
	for _, w := range a.AllWarnings() {
		resp.Warnings = append(resp.Warnings, loc.Pick(w.De, w.En))
	}
	return resp
}

// NextSteps lists what the user should do for the resolved status
func NextSteps(loc *i18n.Localizer, in engine.Input, a *engine.Assessment) []string {
	steps := []string{}
	switch a.Status {
	case domain.StatusIllegal:
		if in.TuvStatus == domain.TuvRedRacing {
			steps = append(steps, loc.T("next_steps.racing_only"))
		}
		if domain.HasCritical(a.Violations) {
			steps = append(steps, loc.T("next_steps.resolve_violations"))
		}
	case domain.StatusFullyLegal:
		steps = append(steps, loc.T("next_steps.keep_documents", map[string]string{"approvalType": evidenceLabel(in, a)}))
		if a.BestMatch != nil && len(a.BestMatch.Entry.Restrictions) > 0 {
			steps = append(steps, loc.T("next_steps.check_restrictions"))
		}
	case domain.StatusRegistrationRequired:
		steps = append(steps, loc.T("next_steps.registration"))
	case domain.StatusInspectionRequired:
		steps = append(steps, loc.T("next_steps.inspection"))
	default:
		if _, ok := a.ApprovalType.EvidenceType(); ok && a.BestMatch != nil {
			steps = append(steps, loc.T("next_steps.upload_document", map[string]string{"approvalType": string(a.ApprovalType)}))
		} else {
			steps = append(steps, loc.T("next_steps.find_approval"))
		}
	}
	if len(a.RegionalRules) > 0 {
		steps = append(steps, loc.T("next_steps.regional", map[string]string{"state": catalog.StateName(in.StateID)}))
	}
	return steps
}

// evidenceLabel names the paperwork that makes the part legal
func evidenceLabel(in engine.Input, a *engine.Assessment) string {
	for _, e := range in.Evidence {
		if e.IsStrong() {
			return string(e)
		}
	}
	if a.BestMatch != nil && a.ApprovalType != domain.ApprovalNone {
		return string(a.ApprovalType)
	}
	return string(domain.EvidenceEintragung)
}

// resolveCacheKey returns "" when results must not be cached
func (s *CheckService) resolveCacheKey(ctx context.Context, locale string, in engine.Input) string {
	if s.cache == nil {
		return ""
	}
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.metrics.IncCache("error")
		s.logger.Warn().Err(err).Str("source", "check_cache").Msg("cache generation read failed")
		return ""
	}
	return s.cacheKey(gen, locale, in)
}

func (s *CheckService) cacheKey(generation int64, locale string, in engine.Input) string {
	parts := []string{
		s.engine.Catalog().Version(),
		strconv.FormatInt(generation, 10),
		locale,
		catalog.Normalize(in.Brand),
		catalog.Normalize(in.PartName),
		string(in.Category),
		domain.NormalizeApprovalNumber(in.ApprovalNumber),
		in.StateID,
		string(in.TuvStatus),
	}
	if v := in.Vehicle; v != nil {
		parts = append(parts, catalog.Normalize(v.Make), catalog.Normalize(v.Model), strconv.Itoa(v.Year))
	} else {
		parts = append(parts, "", "", "")
	}
	for _, p := range []*float64{in.Parameters.ClearanceLoaded, in.Parameters.TrackWidthChange, in.Parameters.ET, in.Parameters.NoiseLevelDB} {
		if p == nil {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, strconv.FormatFloat(*p, 'g', -1, 64))
	}
	evidence := make([]string, 0, len(in.Evidence))
	for _, e := range in.Evidence {
		evidence = append(evidence, string(e))
	}
	parts = append(parts, strings.Join(evidence, ","))
	return cache.Key(parts...)
}

func (s *CheckService) fromCache(ctx context.Context, key string) (*CheckResponse, bool) {
	if s.cache == nil || key == "" {
		return nil, false
	}
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.IncCache("error")
		s.logger.Warn().Err(err).Str("source", "check_cache").Msg("cache read failed")
		return nil, false
	}
	if !ok {
		s.metrics.IncCache("miss")
		return nil, false
	}
	var resp CheckResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.metrics.IncCache("error")
		s.logger.Warn().Err(err).Msg("discarding undecodable cache entry")
		return nil, false
	}
	s.metrics.IncCache("hit")
	return &resp, true
}

func (s *CheckService) toCache(ctx context.Context, key string, resp *CheckResponse) {
	if s.cache == nil || key == "" {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn().Err(err).Msg("encode check response for cache")
		return
	}
	if err := s.cache.Set(ctx, key, payload); err != nil {
		s.metrics.IncCache("error")
		s.logger.Warn().Err(err).Str("source", "check_cache").Msg("cache write failed")
	}
}

func nonNilMatches(m []catalog.Match) []catalog.Match {
	if m == nil {
		return []catalog.Match{}
	}
	return m
}
