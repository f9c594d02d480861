package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/buildpass/buildpass-backend/internal/legality/catalog"
	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/pkg/logger"
)

// Names of best-effort sources reported in Assessment.Degraded
const (
	SourceReferenceOverlay = "reference_overlay"
	SourceCommunityProofs  = "community_proofs"
)

// ReferenceLookup finds entries in the database overlay of the catalog.
// Entries containing approvalNumber come first; without such entries the
// lookup falls back to brand and category equality.
type ReferenceLookup interface {
	FindCandidates(ctx context.Context, approvalNumber, brand string, category domain.Category, limit int) ([]domain.ReferenceEntry, error)
}

// RegionalSource returns the rules of a state for one category
type RegionalSource interface {
	RulesFor(stateID string, category domain.Category) []domain.RegionalRule
}

// CitationSource returns the laws a rule is based on
type CitationSource interface {
	ForRule(ruleID string) []domain.LegalReference
}

// Options tunes result sizes. Zero values use the defaults.
type Options struct {
	SuggestionLimit int
	DBMatchLimit    int
	Now             func() time.Time
}

// Engine assesses modifications against the reference data. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	catalog         *catalog.Catalog
	regional        RegionalSource
	citations       CitationSource
	refs            ReferenceLookup
	suggestionLimit int
	dbMatchLimit    int
	now             func() time.Time
	log             *logger.Logger
}

// New creates an engine. refs may be nil, in which case only the static
// catalog is consulted.
func New(data *catalog.Data, refs ReferenceLookup, opts Options, log *logger.Logger) *Engine {
	if opts.SuggestionLimit <= 0 {
		opts.SuggestionLimit = 8
	}
	if opts.DBMatchLimit <= 0 {
		opts.DBMatchLimit = catalog.DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		catalog:         data.Catalog,
		regional:        data.Regional,
		citations:       data.Citations,
		refs:            refs,
		suggestionLimit: opts.SuggestionLimit,
		dbMatchLimit:    opts.DBMatchLimit,
		now:             opts.Now,
		log:             log.WithComponent("engine"),
	}
}

// Catalog returns the static catalog the engine matches against
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// RegionalRules lists the rules for a state and category
func (e *Engine) RegionalRules(stateID string, category domain.Category) []domain.RegionalRule {
	if e.regional == nil {
		return nil
	}
	return e.regional.RulesFor(stateID, category)
}

// Input describes one modification to assess
type Input struct {
	Brand          string
	PartName       string
	Category       domain.Category
	ApprovalNumber string
	Vehicle        *catalog.VehicleFilter
	StateID        string
	Parameters     domain.UserParameters
	TuvStatus      domain.TuvStatus
	Evidence       []domain.EvidenceType
}

// Text is the free-text query: brand followed by part name
func (in Input) Text() string {
	return strings.Join(strings.Fields(in.Brand+" "+in.PartName), " ")
}

// InputFromModification collects the assessment inputs stored on a modification
func InputFromModification(m *domain.Modification) Input {
	in := Input{
		Brand:          m.Brand,
		PartName:       m.PartName,
		Category:       m.Category,
		ApprovalNumber: m.ApprovalNumberHint(),
		StateID:        m.StateID(),
		Parameters:     m.Parameters,
		TuvStatus:      m.TuvStatus,
		Evidence:       m.EvidenceTypes(),
	}
	if v := m.Vehicle; v != nil {
		in.Vehicle = &catalog.VehicleFilter{Make: v.Make, Model: v.Model, Year: v.Year}
	}
	return in
}

// Assessment is the full result of one run. It is never persisted as a whole.
type Assessment struct {
	// ApprovalNumber is the normalized approval hint, if any
	ApprovalNumber string
	BestMatch      *catalog.Match
	// Suggestions come from the static catalog, DBMatches from the overlay
	Suggestions   []catalog.Match
	DBMatches     []catalog.Match
	ApprovalType  domain.ApprovalType
	Status        domain.LegalityStatus
	Violations    []domain.Violation
	Warnings      []domain.Message
	RegionalRules []domain.RegionalRule
	// Degraded lists the best-effort sources that failed
	Degraded []string
}

// Assess runs matching, parameter validation, the regional overlay and the
// status decision. Lookup failures reduce to missing data and are recorded
// in Degraded; Assess itself never fails. Warnings does not include the
// degraded note, see AllWarnings.
func (e *Engine) Assess(ctx context.Context, in Input) Assessment {
	a := Assessment{
		ApprovalNumber: domain.NormalizeApprovalNumber(in.ApprovalNumber),
		Violations:     []domain.Violation{},
		Warnings:       []domain.Message{},
	}

	q := catalog.Query{
		Text:           in.Text(),
		Category:       in.Category,
		ApprovalNumber: a.ApprovalNumber,
		Vehicle:        in.Vehicle,
		Limit:          e.suggestionLimit,
	}
	overlay := e.lookupOverlay(ctx, in, &a)

	a.Suggestions = e.catalog.Match(q)
	a.DBMatches = rankOverlay(q, overlay, e.dbMatchLimit)
	if len(a.Suggestions) == 0 && len(a.DBMatches) == 0 && q.ApprovalNumber != "" {
		// the hint found nothing, fall back to brand and category
		q.ApprovalNumber = ""
		a.Suggestions = e.catalog.Match(q)
		a.DBMatches = rankOverlay(q, overlay, e.dbMatchLimit)
	}

	merged := MergeCandidates(q, a.Suggestions, a.DBMatches)
	a.ApprovalType = domain.ApprovalNone
	var thresholds *domain.CriticalParameters
	if len(merged) > 0 {
		best := merged[0]
		a.BestMatch = &best
		a.ApprovalType = best.Entry.ApprovalType.OrNone()
		thresholds = best.Entry.CriticalParameters
	}

	a.Violations = append(a.Violations, ValidateParameters(in.Parameters, thresholds)...)

	// regional rules need the declared category; a matched entry does not supply one
	regional := RegionalOverlay(e.RegionalRules(in.StateID, in.Category))
	a.RegionalRules = regional.Rules
	a.Violations = append(a.Violations, regional.Violations...)
	e.attachCitations(a.Violations)

	var matched domain.ApprovalType
	if a.BestMatch != nil {
		matched = a.ApprovalType
	}
	a.Status = Resolve(ResolveInput{
		TuvStatus:           in.TuvStatus,
		Evidence:            in.Evidence,
		MatchedApprovalType: matched,
		Violations:          a.Violations,
	})

	a.Warnings = append(a.Warnings, regional.Warnings...)
	a.Warnings = append(a.Warnings, e.matchWarnings(a.BestMatch, in.Vehicle)...)
	return a
}

// AllWarnings returns the warnings followed by a note about degraded sources, if any
func (a *Assessment) AllWarnings() []domain.Message {
	out := append([]domain.Message{}, a.Warnings...)
	if len(a.Degraded) > 0 {
		out = append(out, DegradedWarning(a.Degraded))
	}
	return out
}

func (e *Engine) lookupOverlay(ctx context.Context, in Input, a *Assessment) []domain.ReferenceEntry {
	if e.refs == nil {
		return nil
	}
	entries, err := e.refs.FindCandidates(ctx, a.ApprovalNumber, strings.TrimSpace(in.Brand), in.Category, e.dbMatchLimit)
	if err != nil {
		e.log.Warn().Err(err).Str("source", SourceReferenceOverlay).Msg("reference lookup failed, continuing without overlay")
		a.Degraded = append(a.Degraded, SourceReferenceOverlay)
		return nil
	}
	return entries
}

func (e *Engine) attachCitations(violations []domain.Violation) {
	if e.citations == nil {
		return
	}
	for i := range violations {
		if len(violations[i].LegalReferences) == 0 {
			violations[i].LegalReferences = e.citations.ForRule(violations[i].RuleID)
		}
	}
}

func (e *Engine) matchWarnings(best *catalog.Match, vehicle *catalog.VehicleFilter) []domain.Message {
	if best == nil {
		return nil
	}
	var out []domain.Message
	for _, r := range best.Entry.Restrictions {
		params := map[string]string{"restriction": r}
		out = append(out, bilingual("warnings.restriction", params, params))
	}
	if best.Entry.IsSynthetic {
		out = append(out, bilingual("warnings.synthetic_match", nil, nil))
	}

	today := e.now()
	number := best.Entry.ApprovalNumber
	if number == "" {
		number = string(best.Entry.ApprovalType.OrNone())
	}
	switch {
	case best.Entry.ValidOn(today):
	case best.Entry.ValidUntil != nil && domain.NewDate(today).After(best.Entry.ValidUntil.Time):
		params := map[string]string{"approvalNumber": number, "date": best.Entry.ValidUntil.String()}
		out = append(out, bilingual("warnings.expired", params, params))
	case best.Entry.ValidFrom != nil:
		params := map[string]string{"approvalNumber": number, "date": best.Entry.ValidFrom.String()}
		out = append(out, bilingual("warnings.not_yet_valid", params, params))
	}

	if best.YearMismatch && vehicle != nil && vehicle.Year > 0 {
		params := map[string]string{"year": strconv.Itoa(vehicle.Year)}
		out = append(out, bilingual("warnings.year_not_listed", params, params))
	}
	return out
}

// DegradedWarning tells the user which sources were skipped
func DegradedWarning(sources []string) domain.Message {
	sorted := append([]string(nil), sources...)
	sort.Strings(sorted)
	params := map[string]string{"sources": strings.Join(sorted, ", ")}
	return bilingual("warnings.lookup_degraded", params, params)
}

func rankOverlay(q catalog.Query, entries []domain.ReferenceEntry, limit int) []catalog.Match {
	out := make([]catalog.Match, 0, len(entries))
	for _, entry := range entries {
		if m, ok := catalog.RankEntry(q, entry); ok {
			out = append(out, m)
		}
	}
	catalog.SortMatches(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MergeCandidates combines static and overlay matches into one ranked list.
// Entries with the same fingerprint are kept once, preferring the overlay
// copy since it carries the newer data.
func MergeCandidates(q catalog.Query, static, overlay []catalog.Match) []catalog.Match {
	byFingerprint := make(map[string]int, len(static)+len(overlay))
	merged := make([]catalog.Match, 0, len(static)+len(overlay))
	for _, m := range static {
		if _, dup := byFingerprint[m.Fingerprint()]; dup {
			continue
		}
		byFingerprint[m.Fingerprint()] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range overlay {
		if i, dup := byFingerprint[m.Fingerprint()]; dup {
			// keep the better text rank of the two copies
			if merged[i].Rank.Tier < m.Rank.Tier || (merged[i].Rank.Tier == m.Rank.Tier && merged[i].Rank.Index < m.Rank.Index) {
				m.Rank.Tier, m.Rank.Index = merged[i].Rank.Tier, merged[i].Rank.Index
			}
			merged[i] = m
			continue
		}
		byFingerprint[m.Fingerprint()] = len(merged)
		merged = append(merged, m)
	}

	catalog.SortMatches(merged)
	limit := q.Limit
	if limit <= 0 {
		limit = catalog.DefaultLimit
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
