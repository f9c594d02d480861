package domain

import (
	"strings"
)

// Category is a modification / reference catalog category
type Category string

const (
	CategoryWheels     Category = "wheels"
	CategorySuspension Category = "suspension"
	CategoryExhaust    Category = "exhaust"
	CategoryBrakes     Category = "brakes"
	CategoryAero       Category = "aero"
	CategoryLighting   Category = "lighting"
	CategoryECU        Category = "ecu"
	CategoryInterior   Category = "interior"
	CategorySafety     Category = "safety"
	CategoryOther      Category = "other"
)

// Categories lists every category in display order
var Categories = []Category{
	CategoryWheels, CategorySuspension, CategoryExhaust, CategoryBrakes, CategoryAero,
	CategoryLighting, CategoryECU, CategoryInterior, CategorySafety, CategoryOther,
}

var categoryAliases = map[string]Category{
	"felgen":          CategoryWheels,
	"räder":           CategoryWheels,
	"raeder":          CategoryWheels,
	"rader":           CategoryWheels,
	"reifen":          CategoryWheels,
	"rims":            CategoryWheels,
	"wheel":           CategoryWheels,
	"fahrwerk":        CategorySuspension,
	"gewindefahrwerk": CategorySuspension,
	"federn":          CategorySuspension,
	"coilovers":       CategorySuspension,
	"auspuff":         CategoryExhaust,
	"abgasanlage":     CategoryExhaust,
	"bremsen":         CategoryBrakes,
	"bremse":          CategoryBrakes,
	"brake":           CategoryBrakes,
	"aerodynamik":     CategoryAero,
	"karosserie":      CategoryAero,
	"bodykit":         CategoryAero,
	"beleuchtung":     CategoryLighting,
	"licht":           CategoryLighting,
	"lights":          CategoryLighting,
	"chiptuning":      CategoryECU,
	"software":        CategoryECU,
	"motor":           CategoryECU,
	"engine":          CategoryECU,
	"innenraum":       CategoryInterior,
	"sicherheit":      CategorySafety,
	"sonstiges":       CategoryOther,
}

// IsValid reports whether c is a known category
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory accepts category ids and common German/English aliases
func ParseCategory(s string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", false
	}
	if c := Category(key); c.IsValid() {
		return c, true
	}
	c, ok := categoryAliases[key]
	return c, ok
}

// ApprovalType is the approval regime a reference entry carries
type ApprovalType string

const (
	ApprovalNone                 ApprovalType = "NONE"
	ApprovalABE                  ApprovalType = "ABE"
	ApprovalABG                  ApprovalType = "ABG"
	ApprovalEBE                  ApprovalType = "EBE"
	ApprovalTeilegutachten       ApprovalType = "TEILEGUTACHTEN"
	ApprovalEinzelabnahme21      ApprovalType = "EINZELABNAHME_21"
	ApprovalECE                  ApprovalType = "ECE"
	ApprovalEintragungspflichtig ApprovalType = "EINTRAGUNGSPFLICHTIG"
)

var approvalTypes = []ApprovalType{
	ApprovalNone, ApprovalABE, ApprovalABG, ApprovalEBE, ApprovalTeilegutachten,
	ApprovalEinzelabnahme21, ApprovalECE, ApprovalEintragungspflichtig,
}

// IsValid reports whether a is a known approval type
func (a ApprovalType) IsValid() bool {
	for _, known := range approvalTypes {
		if a == known {
			return true
		}
	}
	return false
}

func (a ApprovalType) String() string { return string(a) }

// OrNone maps the empty value to NONE
func (a ApprovalType) OrNone() ApprovalType {
	if a == "" {
		return ApprovalNone
	}
	return a
}

// EvidenceType returns the document type that proves possession of this approval.
// The second value is false for types that no single document proves.
func (a ApprovalType) EvidenceType() (EvidenceType, bool) {
	switch a {
	case ApprovalABE:
		return EvidenceABE, true
	case ApprovalABG:
		return EvidenceABG, true
	case ApprovalEBE:
		return EvidenceEBE, true
	case ApprovalECE:
		return EvidenceECE, true
	case ApprovalTeilegutachten:
		return EvidenceTeilegutachten, true
	case ApprovalEinzelabnahme21:
		return EvidenceEinzelabnahme, true
	}
	return "", false
}

// ParseApprovalType is case-insensitive and accepts spelling variants
func ParseApprovalType(s string) (ApprovalType, bool) {
	key := normalizeEnumKey(s)
	switch key {
	case "":
		return "", false
	case "TEILEGUTACHTEN", "TGA", "GUTACHTEN":
		return ApprovalTeilegutachten, true
	case "EINZELABNAHME", "EINZELABNAHME_21", "21", "§21", "PARAGRAPH_21":
		return ApprovalEinzelabnahme21, true
	case "EINTRAGUNGSPFLICHTIG", "EINTRAGUNG":
		return ApprovalEintragungspflichtig, true
	case "ECE_R", "E_PRUEFZEICHEN", "E_PRÜFZEICHEN":
		return ApprovalECE, true
	}
	if a := ApprovalType(key); a.IsValid() {
		return a, true
	}
	return "", false
}

// EvidenceType classifies a document attached to a modification
type EvidenceType string

const (
	EvidenceABE            EvidenceType = "ABE"
	EvidenceABG            EvidenceType = "ABG"
	EvidenceEBE            EvidenceType = "EBE"
	EvidenceECE            EvidenceType = "ECE"
	EvidenceTeilegutachten EvidenceType = "TEILEGUTACHTEN"
	EvidenceEinzelabnahme  EvidenceType = "EINZELABNAHME"
	EvidenceEintragung     EvidenceType = "EINTRAGUNG"
	EvidenceOther          EvidenceType = "OTHER"
)

// IsStrong reports whether the evidence alone proves road legality
func (e EvidenceType) IsStrong() bool {
	return e == EvidenceEintragung || e == EvidenceEinzelabnahme
}

// CarriesApprovalNumber reports whether documents of this type hold a usable approval number
func (e EvidenceType) CarriesApprovalNumber() bool {
	switch e {
	case EvidenceABE, EvidenceABG, EvidenceEBE, EvidenceECE, EvidenceTeilegutachten:
		return true
	}
	return false
}

// ParseEvidenceType never fails; unknown values become OTHER
func ParseEvidenceType(s string) EvidenceType {
	switch key := normalizeEnumKey(s); key {
	case "ABE", "ABG", "EBE", "ECE", "TEILEGUTACHTEN", "EINTRAGUNG":
		return EvidenceType(key)
	case "EINZELABNAHME", "EINZELABNAHME_21", "§21":
		return EvidenceEinzelabnahme
	case "ECE_R":
		return EvidenceECE
	case "EINTRAGUNGSNACHWEIS":
		return EvidenceEintragung
	}
	// A registration certificate alone does not prove an entry for the part
	return EvidenceOther
}

// SourceID tags the provenance of a reference entry
type SourceID string

const (
	SourceManufacturer SourceID = "manufacturer"
	SourceKBA          SourceID = "kba"
	SourceCandidate    SourceID = "candidate"
	SourceCommunity    SourceID = "community"
)

// Severity of a violation or regional rule
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is a known severity
func (s Severity) IsValid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// LegalityStatus is the resolved verdict for a modification
type LegalityStatus string

const (
	StatusUnknown              LegalityStatus = "UNKNOWN"
	StatusFullyLegal           LegalityStatus = "FULLY_LEGAL"
	StatusRegistrationRequired LegalityStatus = "REGISTRATION_REQUIRED"
	StatusInspectionRequired   LegalityStatus = "INSPECTION_REQUIRED"
	StatusIllegal              LegalityStatus = "ILLEGAL"
)

// IsValid reports whether s is one of the five statuses
func (s LegalityStatus) IsValid() bool {
	switch s {
	case StatusUnknown, StatusFullyLegal, StatusRegistrationRequired, StatusInspectionRequired, StatusIllegal:
		return true
	}
	return false
}

func (s LegalityStatus) String() string { return string(s) }

// TuvStatus is the status the user declared for a modification
type TuvStatus string

const (
	TuvGreenRegistered TuvStatus = "GREEN_REGISTERED"
	TuvYellowABE       TuvStatus = "YELLOW_ABE"
	TuvRedRacing       TuvStatus = "RED_RACING"
)

// ParseTuvStatus maps unknown values to the empty status
func ParseTuvStatus(s string) TuvStatus {
	switch t := TuvStatus(normalizeEnumKey(s)); t {
	case TuvGreenRegistered, TuvYellowABE, TuvRedRacing:
		return t
	}
	return ""
}

func normalizeEnumKey(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
