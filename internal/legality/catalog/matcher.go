package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
)

// DefaultLimit caps results when a query does not set one
const DefaultLimit = 10

// Match tiers, best first
const (
	TierPrefix     = 0 // normalized text starts with the query
	TierSubstring  = 1 // query appears inside the text
	TierQueryHolds = 2 // the query contains the whole text
	TierTokens     = 3 // every query word appears, in any order
	TierFallback   = 4 // matched only by approval number or by a database lookup
)

// Query describes one matcher lookup
type Query struct {
	Text           string
	Category       domain.Category
	Subcategory    string
	ApprovalNumber string
	Vehicle        *VehicleFilter
	Limit          int
}

// RankKey orders matches. Lower sorts first on every field except UpdatedAt.
type RankKey struct {
	Synthetic bool
	Tier      int
	Index     int
	Length    int
	UpdatedAt int64
}

// Match is one ranked catalog candidate
type Match struct {
	Label        string                `json:"label"`
	Entry        domain.ReferenceEntry `json:"item"`
	Rank         RankKey               `json:"-"`
	YearMismatch bool                  `json:"-"`
	fingerprint  string
	sortKey      string
}

// Fingerprint returns the identity of the matched entry
func (m *Match) Fingerprint() string {
	if m.fingerprint == "" {
		m.fingerprint = m.Entry.Fingerprint()
	}
	return m.fingerprint
}

// indexedEntry caches the normalized forms of one entry
type indexedEntry struct {
	entry       domain.ReferenceEntry
	label       string
	normLabel   string
	normPart    string
	fingerprint string
}

func newIndexedEntry(e domain.ReferenceEntry) indexedEntry {
	return indexedEntry{
		entry:       e,
		label:       e.Label(),
		normLabel:   Normalize(e.Label()),
		normPart:    Normalize(e.PartName),
		fingerprint: e.Fingerprint(),
	}
}

// Match ranks catalog entries against q. Identical queries against the same
// catalog always return the same ordered list.
func (c *Catalog) Match(q Query) []Match {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	nq := Normalize(q.Text)
	hint := strings.TrimSpace(q.ApprovalNumber)
	subcategory := Normalize(q.Subcategory)

	var out []Match
	for i := range c.entries {
		ie := &c.entries[i]
		if q.Category != "" && ie.entry.Category != q.Category {
			continue
		}
		if subcategory != "" && Normalize(ie.entry.Subcategory) != subcategory {
			continue
		}
		if m, ok := rank(ie, nq, hint, q.Vehicle, hint != ""); ok {
			out = append(out, m)
		}
	}

	SortMatches(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Search is the autocomplete lookup: text only, optional category
func (c *Catalog) Search(text string, category domain.Category, limit int) []Match {
	return c.Match(Query{Text: text, Category: category, Limit: limit})
}

// textRank scores the query against the label and the bare part name and keeps the better score
func textRank(nq, normLabel, normPart string) (tier, index int, ok bool) {
	tier, index, ok = rankAgainst(nq, normLabel)
	if pt, pi, pok := rankAgainst(nq, normPart); pok && (!ok || pt < tier || (pt == tier && pi < index)) {
		tier, index, ok = pt, pi, true
	}
	return tier, index, ok
}

func rankAgainst(nq, text string) (int, int, bool) {
	if text == "" {
		return 0, 0, false
	}
	if nq == "" || strings.HasPrefix(text, nq) {
		return TierPrefix, 0, true
	}
	if idx := strings.Index(text, nq); idx >= 0 {
		return TierSubstring, idx, true
	}
	if idx := strings.Index(nq, text); idx >= 0 {
		return TierQueryHolds, idx, true
	}
	if allTokensPresent(Tokens(nq), Tokens(text)) {
		return TierTokens, 0, true
	}
	return 0, 0, false
}

func allTokensPresent(query, text []string) bool {
	if len(query) == 0 {
		return false
	}
	words := make(map[string]bool, len(text))
	for _, w := range text {
		words[w] = true
	}
	for _, w := range query {
		if !words[w] {
			return false
		}
	}
	return true
}

// SortMatches orders matches by primary source first, then text rank, then
// German collation of the label, then most recent update, then fingerprint.
// The fingerprint makes the order total.
func SortMatches(matches []Match) {
	// collators are not safe for concurrent use
	col := collate.New(language.German, collate.Loose)
	for i := range matches {
		if matches[i].sortKey == "" {
			matches[i].sortKey = Normalize(matches[i].Label)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := &matches[i], &matches[j]
		if a.Rank.Synthetic != b.Rank.Synthetic {
			return !a.Rank.Synthetic
		}
		if a.Rank.Tier != b.Rank.Tier {
			return a.Rank.Tier < b.Rank.Tier
		}
		if a.Rank.Index != b.Rank.Index {
			return a.Rank.Index < b.Rank.Index
		}
		if a.Rank.Length != b.Rank.Length {
			return a.Rank.Length < b.Rank.Length
		}
		if c := col.CompareString(a.sortKey, b.sortKey); c != 0 {
			return c < 0
		}
		if a.Rank.UpdatedAt != b.Rank.UpdatedAt {
			return a.Rank.UpdatedAt > b.Rank.UpdatedAt
		}
		return a.Fingerprint() < b.Fingerprint()
	})
}

// RankEntry scores an entry that was found outside this catalog, e.g. a
// database overlay row, with the same rules Match uses. The lookup that
// produced the entry already selected it, so a missing text match only lowers
// the tier. ok is false when the approval hint or the vehicle filter exclude it.
func RankEntry(q Query, e domain.ReferenceEntry) (Match, bool) {
	ie := newIndexedEntry(e)
	return rank(&ie, Normalize(q.Text), strings.TrimSpace(q.ApprovalNumber), q.Vehicle, true)
}

func rank(ie *indexedEntry, nq, hint string, vehicle *VehicleFilter, allowFallback bool) (Match, bool) {
	if hint != "" && !domain.ApprovalNumberContains(ie.entry.ApprovalNumber, hint) {
		return Match{}, false
	}
	tier, index, ok := textRank(nq, ie.normLabel, ie.normPart)
	if !ok {
		if !allowFallback {
			return Match{}, false
		}
		tier, index = TierFallback, 0
	}
	compat := CheckCompatibility(ie.entry.VehicleCompatibility, vehicle)
	if !compat.Compatible {
		return Match{}, false
	}

	var updated int64
	if !ie.entry.UpdatedAt.IsZero() {
		updated = ie.entry.UpdatedAt.UnixNano()
	}
	return Match{
		Label: ie.label,
		Entry: ie.entry,
		Rank: RankKey{
			Synthetic: ie.entry.IsSynthetic,
			Tier:      tier,
			Index:     index,
			Length:    len(ie.normLabel),
			UpdatedAt: updated,
		},
		YearMismatch: compat.YearMismatch,
		fingerprint:  ie.fingerprint,
		sortKey:      ie.normLabel,
	}, true
}
