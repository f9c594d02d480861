package catalog

import (
	"strings"
)

// German federal states by ISO 3166-2 suffix
var stateNames = map[string]string{
	"BW": "Baden-Württemberg",
	"BY": "Bayern",
	"BE": "Berlin",
	"BB": "Brandenburg",
	"HB": "Bremen",
	"HH": "Hamburg",
	"HE": "Hessen",
	"MV": "Mecklenburg-Vorpommern",
	"NI": "Niedersachsen",
	"NW": "Nordrhein-Westfalen",
	"RP": "Rheinland-Pfalz",
	"SL": "Saarland",
	"SN": "Sachsen",
	"ST": "Sachsen-Anhalt",
	"SH": "Schleswig-Holstein",
	"TH": "Thüringen",
}

// stateAliases is keyed by normalized name
var stateAliases = func() map[string]string {
	m := map[string]string{
		"bavaria":                "BY",
		"hesse":                  "HE",
		"lower saxony":           "NI",
		"north rhine westphalia": "NW",
		"nrw":                    "NW",
		"rhineland palatinate":   "RP",
		"saxony":                 "SN",
		"saxony anhalt":          "ST",
		"thuringia":              "TH",
	}
	for code, name := range stateNames {
		m[Normalize(name)] = code
	}
	return m
}()

// NormalizeStateID maps "BY", "de-by", "DE_BY" or "Bayern" to "BY".
// Unknown input gives "".
func NormalizeStateID(s string) string {
	code := strings.ToUpper(strings.TrimSpace(s))
	code = strings.TrimPrefix(strings.TrimPrefix(code, "DE-"), "DE_")
	if _, ok := stateNames[code]; ok {
		return code
	}
	return stateAliases[Normalize(s)]
}

// StateName returns the German display name of a state, or the input when unknown
func StateName(stateID string) string {
	if name, ok := stateNames[NormalizeStateID(stateID)]; ok {
		return name
	}
	return stateID
}
