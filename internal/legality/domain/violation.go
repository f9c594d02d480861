package domain

// LegalReference cites the law a rule is based on
type LegalReference struct {
	LawID     string `json:"lawId"`
	LawNameDe string `json:"lawNameDe"`
	LawNameEn string `json:"lawNameEn"`
	LawURL    string `json:"lawUrl"`
	Section   string `json:"section"`
	NotesDe   string `json:"notesDe,omitempty"`
	NotesEn   string `json:"notesEn,omitempty"`
}

// Violation is a finding produced during one assessment. It is never persisted.
type Violation struct {
	RuleID          string           `json:"ruleId"`
	Severity        Severity         `json:"severity"`
	MessageDe       string           `json:"messageDe"`
	MessageEn       string           `json:"messageEn"`
	LegalReferences []LegalReference `json:"legalReferences,omitempty"`
}

// HasCritical reports whether any violation is critical
func HasCritical(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// RuleIDs returns the rule ids in order
func RuleIDs(violations []Violation) []string {
	ids := make([]string, len(violations))
	for i, v := range violations {
		ids[i] = v.RuleID
	}
	return ids
}

// RegionalRule is a state specific requirement for one category
type RegionalRule struct {
	ID            string   `json:"id"`
	StateID       string   `json:"stateId"`
	Category      Category `json:"categoryId"`
	Severity      Severity `json:"severity"`
	NameDe        string   `json:"nameDe"`
	NameEn        string   `json:"nameEn"`
	DescriptionDe string   `json:"descriptionDe"`
	DescriptionEn string   `json:"descriptionEn"`
}

// Message is a user-facing text in both supported languages
type Message struct {
	De string `json:"de"`
	En string `json:"en"`
}
