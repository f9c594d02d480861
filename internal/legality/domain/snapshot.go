package domain

import (
	"time"
)

// Snapshot is the cached legality verdict stored on a modification.
// It is derived data and can always be recomputed from the modification's inputs.
type Snapshot struct {
	Status               LegalityStatus `json:"status"`
	ApprovalType         ApprovalType   `json:"approvalType"`
	ApprovalNumber       string         `json:"approvalNumber,omitempty"`
	SourceID             SourceID       `json:"sourceId,omitempty"`
	SourceURL            string         `json:"sourceUrl,omitempty"`
	Notes                string         `json:"notes,omitempty"`
	ReferenceFingerprint string         `json:"referenceFingerprint,omitempty"`
	CheckedAt            *time.Time     `json:"checkedAt,omitempty"`
}

// SameContent compares every field except CheckedAt
func (s Snapshot) SameContent(o Snapshot) bool {
	return s.Status == o.Status &&
		s.ApprovalType == o.ApprovalType &&
		s.ApprovalNumber == o.ApprovalNumber &&
		s.SourceID == o.SourceID &&
		s.SourceURL == o.SourceURL &&
		s.Notes == o.Notes &&
		s.ReferenceFingerprint == o.ReferenceFingerprint
}

// IsEmpty reports whether the snapshot was never computed
func (s Snapshot) IsEmpty() bool {
	return s.Status == "" && s.CheckedAt == nil
}

// ListingMirror is the denormalized snapshot copy stored on a marketplace listing
type ListingMirror struct {
	Snapshot
	IsFullyLegal         bool `json:"isFullyLegal"`
	RequiresRegistration bool `json:"requiresRegistration"`
	RequiresInspection   bool `json:"requiresInspection"`
}

// MirrorFromSnapshot copies s and derives the listing booleans from its status
func MirrorFromSnapshot(s Snapshot) ListingMirror {
	return ListingMirror{
		Snapshot:             s,
		IsFullyLegal:         s.Status == StatusFullyLegal,
		RequiresRegistration: s.Status == StatusRegistrationRequired,
		RequiresInspection:   s.Status == StatusInspectionRequired,
	}
}

// Listing is a marketplace listing built from a modification
type Listing struct {
	ID             string        `json:"id"`
	ModificationID string        `json:"modificationId"`
	Mirror         ListingMirror `json:"legality"`
}

// InSync reports whether the listing mirror already reflects s
func (l *Listing) InSync(s Snapshot) bool {
	want := MirrorFromSnapshot(s)
	return l.Mirror.SameContent(s) &&
		l.Mirror.IsFullyLegal == want.IsFullyLegal &&
		l.Mirror.RequiresRegistration == want.RequiresRegistration &&
		l.Mirror.RequiresInspection == want.RequiresInspection &&
		timesEqual(l.Mirror.CheckedAt, s.CheckedAt)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// CommunityProof is approved, user-contributed evidence for a part
type CommunityProof struct {
	ID             string       `json:"id"`
	Brand          string       `json:"brand"`
	PartName       string       `json:"partName"`
	EvidenceType   EvidenceType `json:"evidenceType"`
	ApprovalNumber string       `json:"approvalNumber,omitempty"`
	VehicleMake    string       `json:"vehicleMake,omitempty"`
	VehicleModel   string       `json:"vehicleModel,omitempty"`
	Note           string       `json:"note,omitempty"`
	ApprovedAt     time.Time    `json:"approvedAt"`
}
