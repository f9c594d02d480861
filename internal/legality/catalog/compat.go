package catalog

import (
	"regexp"
	"strconv"
	"strings"
)

// VehicleFilter narrows matches to entries compatible with one vehicle.
// Empty fields do not filter.
type VehicleFilter struct {
	Make  string
	Model string
	Year  int
}

// IsEmpty reports whether no field is set
func (f *VehicleFilter) IsEmpty() bool {
	return f == nil || (strings.TrimSpace(f.Make) == "" && strings.TrimSpace(f.Model) == "" && f.Year == 0)
}

var universalMarkers = []string{"universal", "alle", "all vehicles", "alle fahrzeuge", "fahrzeugunabhangig"}

var makeAliases = map[string][]string{
	"vw":            {"vw", "volkswagen"},
	"volkswagen":    {"vw", "volkswagen"},
	"mercedes":      {"mercedes", "mercedes benz", "benz", "mb"},
	"mercedes benz": {"mercedes", "mercedes benz", "benz", "mb"},
	"skoda":         {"skoda"},
}

// knownMakes lets a clause without a make inherit the previous clause's make,
// as in "BMW M3 (G80), M4 (G82)"
var knownMakes = []string{
	"vw", "volkswagen", "audi", "seat", "cupra", "skoda", "porsche", "bmw", "mini",
	"mercedes", "benz", "mb", "opel", "ford", "renault", "peugeot", "citroen",
	"fiat", "alfa romeo", "toyota", "honda", "nissan", "mazda", "subaru",
	"mitsubishi", "hyundai", "kia", "volvo", "tesla", "smart", "dacia", "suzuki",
}

var (
	yearRangePattern = regexp.MustCompile(`\b((?:19|20)\d{2})\s*(?:-|–|bis|to)\s*((?:19|20)\d{2})\b`)
	yearFromPattern  = regexp.MustCompile(`\b(?:ab|from|since|seit)\s*((?:19|20)\d{2})\b`)
	yearUntilPattern = regexp.MustCompile(`\b(?:bis|until)\s*((?:19|20)\d{2})\b`)
	singleYear       = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

// Compatibility is the outcome of checking one compatibility string
type Compatibility struct {
	Compatible   bool
	YearMismatch bool
}

// CheckCompatibility applies the permissive vehicle filter. A missing
// compatibility string never excludes an entry; a make or model mismatch does;
// a year mismatch is only flagged. Make and model must be found in the same
// comma separated clause.
func CheckCompatibility(compatibility string, f *VehicleFilter) Compatibility {
	if f.IsEmpty() {
		return Compatibility{Compatible: true}
	}
	compat := Normalize(compatibility)
	if compat == "" {
		return Compatibility{Compatible: true}
	}
	for _, marker := range universalMarkers {
		if containsPhrase(compat, marker) {
			return Compatibility{Compatible: true}
		}
	}

	// raw form keeps the dash for year ranges
	yearText := strings.ToLower(compatibility)
	mk, model := Normalize(f.Make), Normalize(f.Model)
	if mk != "" || model != "" {
		matched := matchingClauses(compatibility, mk, model)
		if len(matched) == 0 {
			return Compatibility{}
		}
		// a clause without its own years shares those of the whole string
		if clauseYears := strings.ToLower(strings.Join(matched, " ")); len(yearRanges(clauseYears)) > 0 {
			yearText = clauseYears
		}
	}

	result := Compatibility{Compatible: true}
	if f.Year > 0 {
		if ranges := yearRanges(yearText); len(ranges) > 0 && !inAnyRange(f.Year, ranges) {
			result.YearMismatch = true
		}
	}
	return result
}

// matchingClauses returns the raw clauses naming both the make and the model
func matchingClauses(compatibility, mk, model string) []string {
	var matched []string
	prevMake := false
	for _, clause := range strings.FieldsFunc(compatibility, func(r rune) bool { return r == ',' || r == ';' }) {
		norm := Normalize(clause)
		if norm == "" {
			continue
		}
		makeOK := true
		if mk != "" {
			if namesMake(norm) {
				prevMake = makeMatches(norm, mk)
			}
			makeOK = prevMake
		}
		if makeOK && containsPhrase(norm, model) {
			matched = append(matched, clause)
		}
	}
	return matched
}

func namesMake(clause string) bool {
	for _, m := range knownMakes {
		if containsPhrase(clause, m) {
			return true
		}
	}
	return false
}

func makeMatches(compat, mk string) bool {
	candidates, ok := makeAliases[mk]
	if !ok {
		candidates = []string{mk}
	}
	for _, c := range candidates {
		if containsPhrase(compat, c) {
			return true
		}
	}
	return false
}

// containsPhrase matches whole words only, so "golf" does not hit "golfer"
func containsPhrase(haystack, phrase string) bool {
	if phrase == "" {
		return true
	}
	h := " " + haystack + " "
	return strings.Contains(h, " "+phrase+" ")
}

type yearRange struct {
	from, to int
}

func yearRanges(s string) []yearRange {
	var ranges []yearRange
	consumed := s

	for _, m := range yearRangePattern.FindAllStringSubmatch(s, -1) {
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		if from > to {
			from, to = to, from
		}
		ranges = append(ranges, yearRange{from, to})
		consumed = strings.Replace(consumed, m[0], " ", 1)
	}
	for _, m := range yearFromPattern.FindAllStringSubmatch(consumed, -1) {
		from, _ := strconv.Atoi(m[1])
		ranges = append(ranges, yearRange{from, 9999})
		consumed = strings.Replace(consumed, m[0], " ", 1)
	}
	for _, m := range yearUntilPattern.FindAllStringSubmatch(consumed, -1) {
		to, _ := strconv.Atoi(m[1])
		ranges = append(ranges, yearRange{0, to})
		consumed = strings.Replace(consumed, m[0], " ", 1)
	}
	for _, m := range singleYear.FindAllStringSubmatch(consumed, -1) {
		y, _ := strconv.Atoi(m[1])
		ranges = append(ranges, yearRange{y, y})
	}
	return ranges
}

func inAnyRange(year int, ranges []yearRange) bool {
	for _, r := range ranges {
		if year >= r.from && year <= r.to {
			return true
		}
	}
	return false
}
