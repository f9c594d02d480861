package domain

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DateLayout is the wire format of validity dates
const DateLayout = "2006-01-02"

// Date is a calendar day serialized as YYYY-MM-DD
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day
func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD or RFC 3339
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return NewDate(t), nil
}

func (d Date) String() string { return d.Format(DateLayout) }

// MarshalJSON implements json.Marshaler
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for DATE columns
func (d *Date) Scan(value any) error {
	switch v := value.(type) {
	case time.Time:
		*d = NewDate(v)
		return nil
	case string:
		parsed, err := ParseDate(v)
		*d = parsed
		return err
	case []byte:
		parsed, err := ParseDate(string(v))
		*d = parsed
		return err
	}
	return fmt.Errorf("cannot scan %T into Date", value)
}

// Value implements driver.Valuer
func (d Date) Value() (driver.Value, error) {
	return d.Time, nil
}

// ReferenceEntry is a known legal/technical record for a part or approval
type ReferenceEntry struct {
	ID                   string              `json:"id,omitempty"`
	Brand                string              `json:"brand"`
	PartName             string              `json:"partName"`
	Category             Category            `json:"category"`
	Subcategory          string              `json:"subcategory,omitempty"`
	ApprovalType         ApprovalType        `json:"approvalType"`
	ApprovalNumber       string              `json:"approvalNumber,omitempty"`
	SourceID             SourceID            `json:"sourceId"`
	SourceURL            string              `json:"sourceUrl,omitempty"`
	VehicleCompatibility string              `json:"vehicleCompatibility,omitempty"`
	Restrictions         []string            `json:"restrictions,omitempty"`
	CriticalParameters   *CriticalParameters `json:"criticalParameters,omitempty"`
	ValidFrom            *Date               `json:"validFrom,omitempty"`
	ValidUntil           *Date               `json:"validUntil,omitempty"`
	IsSynthetic          bool                `json:"isSynthetic"`
	UpdatedAt            time.Time           `json:"-"`
}

// Label is the display text used for matching: brand followed by part name
func (e *ReferenceEntry) Label() string {
	return strings.TrimSpace(strings.Join(strings.Fields(e.Brand+" "+e.PartName), " "))
}

// Fingerprint is the stable identity of an entry, independent of whitespace,
// case and approval number spelling.
func (e *ReferenceEntry) Fingerprint() string {
	parts := []string{
		string(e.Category),
		e.Subcategory,
		e.Brand,
		e.PartName,
		string(e.ApprovalType.OrNone()),
		NormalizeApprovalNumber(e.ApprovalNumber),
		string(e.SourceID),
		e.SourceURL,
	}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// ValidOn reports whether the validity window, where present, contains day
func (e *ReferenceEntry) ValidOn(day time.Time) bool {
	d := NewDate(day)
	if e.ValidFrom != nil && d.Before(e.ValidFrom.Time) {
		return false
	}
	if e.ValidUntil != nil && d.After(e.ValidUntil.Time) {
		return false
	}
	return true
}

// NormalizeApprovalNumber brings KBA numbers into the canonical "KBA <digits>" form.
// "43234", "KBA43234" and "kba-43234" all become "KBA 43234". Other numbers
// (ECE marks, Teilegutachten references) are upper-cased with whitespace collapsed.
func NormalizeApprovalNumber(s string) string {
	upper := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if upper == "" {
		return ""
	}
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' || r == ':' {
			return -1
		}
		return r
	}, upper)

	digits := strings.TrimPrefix(compact, "KBA")
	if digits != "" && isDigits(digits) {
		return "KBA " + digits
	}
	return upper
}

// CompactApprovalNumber is the normalized number without whitespace, used for containment checks
func CompactApprovalNumber(s string) string {
	return strings.Join(strings.Fields(NormalizeApprovalNumber(s)), "")
}

// ApprovalNumberContains reports whether entryNumber contains the hint, ignoring case and whitespace
func ApprovalNumberContains(entryNumber, hint string) bool {
	h := CompactApprovalNumber(hint)
	if h == "" {
		return true
	}
	return strings.Contains(CompactApprovalNumber(entryNumber), h)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
