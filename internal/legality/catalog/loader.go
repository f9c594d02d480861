package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
)

//go:embed data/*.json
var dataFS embed.FS

const (
	embeddedCatalog   = "data/catalog.json"
	embeddedRegional  = "data/regional_rules.json"
	embeddedCitations = "data/legal_citations.json"
)

// Catalog is the immutable static reference catalog. It is built once at
// startup and shared by concurrent requests without locking.
type Catalog struct {
	version string
	entries []indexedEntry
}

// Version of the loaded catalog document
func (c *Catalog) Version() string { return c.version }

// Len returns the number of entries
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns a copy of every entry in catalog order
func (c *Catalog) Entries() []domain.ReferenceEntry {
	out := make([]domain.ReferenceEntry, len(c.entries))
	for i := range c.entries {
		out[i] = c.entries[i].entry
	}
	return out
}

// NewCatalog indexes entries. Entries are ordered by fingerprint so the
// result does not depend on input order.
func NewCatalog(version string, entries []domain.ReferenceEntry) *Catalog {
	indexed := make([]indexedEntry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		ie := newIndexedEntry(e)
		if seen[ie.fingerprint] {
			continue
		}
		seen[ie.fingerprint] = true
		indexed = append(indexed, ie)
	}
	sort.Slice(indexed, func(i, j int) bool { return indexed[i].fingerprint < indexed[j].fingerprint })
	return &Catalog{version: version, entries: indexed}
}

type catalogDocument struct {
	Version    string                                        `json:"version"`
	Categories map[string]map[string][]domain.ReferenceEntry `json:"categories"`
}

// ParseCatalog reads a catalog document grouped by category, then subcategory
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var doc catalogDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	var entries []domain.ReferenceEntry
	for catKey, subcats := range doc.Categories {
		category, ok := domain.ParseCategory(catKey)
		if !ok {
			return nil, fmt.Errorf("catalog: unknown category %q", catKey)
		}
		for subKey, items := range subcats {
			for i, item := range items {
				e, err := normalizeEntry(item, category, subKey)
				if err != nil {
					return nil, fmt.Errorf("catalog %s/%s[%d]: %w", catKey, subKey, i, err)
				}
				entries = append(entries, e)
			}
		}
	}
	return NewCatalog(doc.Version, entries), nil
}

// normalizeEntry fills grouping keys and canonicalizes enum and number spellings
func normalizeEntry(e domain.ReferenceEntry, category domain.Category, subcategory string) (domain.ReferenceEntry, error) {
	if strings.TrimSpace(e.Brand) == "" && strings.TrimSpace(e.PartName) == "" {
		return e, fmt.Errorf("brand and partName are empty")
	}
	if e.Category == "" {
		e.Category = category
	}
	if e.Subcategory == "" {
		e.Subcategory = subcategory
	}
	if !e.Category.IsValid() {
		return e, fmt.Errorf("invalid category %q", e.Category)
	}
	if e.ApprovalType == "" {
		e.ApprovalType = domain.ApprovalNone
	} else {
		at, ok := domain.ParseApprovalType(string(e.ApprovalType))
		if !ok {
			return e, fmt.Errorf("invalid approvalType %q", e.ApprovalType)
		}
		e.ApprovalType = at
	}
	if e.SourceID == "" {
		e.SourceID = domain.SourceCandidate
	}
	e.ApprovalNumber = domain.NormalizeApprovalNumber(e.ApprovalNumber)
	return e, nil
}

// RegionalRuleSet holds the regional rules keyed by state and category
type RegionalRuleSet struct {
	version string
	rules   map[string]map[domain.Category][]domain.RegionalRule
}

type regionalDocument struct {
	Version string                                      `json:"version"`
	States  map[string]map[string][]domain.RegionalRule `json:"states"`
}

// ParseRegionalRules reads a regional rules document keyed by state, then category
func ParseRegionalRules(r io.Reader) (*RegionalRuleSet, error) {
	var doc regionalDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode regional rules: %w", err)
	}

	set := &RegionalRuleSet{version: doc.Version, rules: make(map[string]map[domain.Category][]domain.RegionalRule)}
	for stateKey, byCategory := range doc.States {
		state := NormalizeStateID(stateKey)
		if state == "" {
			return nil, fmt.Errorf("regional rules: unknown state %q", stateKey)
		}
		if set.rules[state] == nil {
			set.rules[state] = make(map[domain.Category][]domain.RegionalRule)
		}
		for catKey, rules := range byCategory {
			category, ok := domain.ParseCategory(catKey)
			if !ok {
				return nil, fmt.Errorf("regional rules %s: unknown category %q", stateKey, catKey)
			}
			for _, rule := range rules {
				if rule.ID == "" {
					return nil, fmt.Errorf("regional rules %s/%s: rule without id", stateKey, catKey)
				}
				if !rule.Severity.IsValid() {
					return nil, fmt.Errorf("regional rule %s: invalid severity %q", rule.ID, rule.Severity)
				}
				rule.StateID = state
				rule.Category = category
				set.rules[state][category] = append(set.rules[state][category], rule)
			}
		}
	}
	return set, nil
}

// Version of the loaded rules document
func (s *RegionalRuleSet) Version() string { return s.version }

// RulesFor returns the rules for a state and category, deduplicated by id.
// Unknown or empty state or category give an empty result.
func (s *RegionalRuleSet) RulesFor(stateID string, category domain.Category) []domain.RegionalRule {
	if s == nil {
		return nil
	}
	state := NormalizeStateID(stateID)
	if state == "" || category == "" {
		return nil
	}
	rules := s.rules[state][category]
	out := make([]domain.RegionalRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

// Citations maps rule ids to the laws they are based on
type Citations struct {
	byRule map[string][]domain.LegalReference
}

// ParseCitations reads a citations document keyed by rule id
func ParseCitations(r io.Reader) (*Citations, error) {
	var doc map[string][]domain.LegalReference
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode citations: %w", err)
	}
	return &Citations{byRule: doc}, nil
}

// ForRule returns a copy of the citations for ruleID, nil when there are none
func (c *Citations) ForRule(ruleID string) []domain.LegalReference {
	if c == nil {
		return nil
	}
	refs := c.byRule[ruleID]
	if len(refs) == 0 {
		return nil
	}
	return append([]domain.LegalReference(nil), refs...)
}

// Data bundles the three read-only reference sources
type Data struct {
	Catalog   *Catalog
	Regional  *RegionalRuleSet
	Citations *Citations
}

// Paths points at reference data files. Empty paths use the embedded data set.
type Paths struct {
	Catalog       string
	RegionalRules string
	Citations     string
}

// LoadEmbedded loads the data set compiled into the binary
func LoadEmbedded() (*Data, error) {
	return Load(Paths{})
}

// Load reads each source from its path, or from the embedded data set
func Load(paths Paths) (*Data, error) {
	var data Data
	var err error

	if err = withSource(paths.Catalog, embeddedCatalog, func(r io.Reader) error {
		data.Catalog, err = ParseCatalog(r)
		return err
	}); err != nil {
		return nil, err
	}
	if err = withSource(paths.RegionalRules, embeddedRegional, func(r io.Reader) error {
		data.Regional, err = ParseRegionalRules(r)
		return err
	}); err != nil {
		return nil, err
	}
	if err = withSource(paths.Citations, embeddedCitations, func(r io.Reader) error {
		data.Citations, err = ParseCitations(r)
		return err
	}); err != nil {
		return nil, err
	}
	return &data, nil
}

func withSource(path, embedded string, fn func(io.Reader) error) error {
	var (
		f   io.ReadCloser
		err error
	)
	if path != "" {
		f, err = os.Open(path)
	} else {
		f, err = dataFS.Open(embedded)
	}
	if err != nil {
		return fmt.Errorf("open reference data: %w", err)
	}
	defer f.Close()
	return fn(f)
}
