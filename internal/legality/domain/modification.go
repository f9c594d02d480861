package domain

import (
	"sort"
	"time"
)

// Vehicle is the car a modification is installed on
type Vehicle struct {
	ID      string `json:"id" db:"id"`
	Make    string `json:"make" db:"make"`
	Model   string `json:"model" db:"model"`
	Year    int    `json:"year,omitempty" db:"year"`
	StateID string `json:"stateId,omitempty" db:"state_id"`
}

// Document is a file attached to a modification, classified by evidence type
type Document struct {
	ID             string       `json:"id"`
	Type           EvidenceType `json:"type"`
	DocumentNumber string       `json:"documentNumber,omitempty"`
}

// ApprovalDocument is structured evidence entered for a modification
type ApprovalDocument struct {
	ID             string       `json:"id"`
	ApprovalType   EvidenceType `json:"approvalType"`
	ApprovalNumber string       `json:"approvalNumber,omitempty"`
	Issuer         string       `json:"issuer,omitempty"`
	ValidFrom      *Date        `json:"validFrom,omitempty"`
	ValidUntil     *Date        `json:"validUntil,omitempty"`
}

// Modification is a user-entered vehicle change together with its evidence
type Modification struct {
	ID         string             `json:"id"`
	VehicleID  string             `json:"vehicleId,omitempty"`
	PartName   string             `json:"partName"`
	Brand      string             `json:"brand,omitempty"`
	Category   Category           `json:"category"`
	TuvStatus  TuvStatus          `json:"tuvStatus,omitempty"`
	Parameters UserParameters     `json:"parameters"`
	Documents  []Document         `json:"documents,omitempty"`
	Approvals  []ApprovalDocument `json:"approvals,omitempty"`
	Vehicle    *Vehicle           `json:"vehicle,omitempty"`
	Snapshot   Snapshot           `json:"snapshot"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// EvidenceTypes returns the distinct evidence types of documents and approvals, sorted
func (m *Modification) EvidenceTypes() []EvidenceType {
	seen := make(map[EvidenceType]bool)
	for _, d := range m.Documents {
		seen[d.Type] = true
	}
	for _, a := range m.Approvals {
		seen[a.ApprovalType] = true
	}
	out := make([]EvidenceType, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ApprovalNumberHint returns the first approval number found in the evidence.
// Structured approvals are preferred over document numbers.
func (m *Modification) ApprovalNumberHint() string {
	for _, a := range m.Approvals {
		if n := NormalizeApprovalNumber(a.ApprovalNumber); n != "" {
			return n
		}
	}
	for _, d := range m.Documents {
		if !d.Type.CarriesApprovalNumber() {
			continue
		}
		if n := NormalizeApprovalNumber(d.DocumentNumber); n != "" {
			return n
		}
	}
	return ""
}

// StateID returns the registered state of the linked vehicle, if any
func (m *Modification) StateID() string {
	if m.Vehicle == nil {
		return ""
	}
	return m.Vehicle.StateID
}
