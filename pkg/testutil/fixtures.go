package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// VehicleFixture represents a test vehicle row
type VehicleFixture struct {
	ID      string
	Make    string
	Model   string
	Year    int
	StateID string
}

// ModificationFixture represents a test modification row
type ModificationFixture struct {
	ID         string
	VehicleID  string
	PartName   string
	Brand      string
	Category   string
	TuvStatus  string
	Parameters string // raw JSON object
}

// DocumentFixture represents an evidence document attached to a modification
type DocumentFixture struct {
	ID             string
	ModificationID string
	Type           string
	DocumentNumber string
}

// ApprovalFixture represents a structured approval document
type ApprovalFixture struct {
	ID             string
	ModificationID string
	ApprovalType   string
	ApprovalNumber string
	Issuer         string
}

// ListingFixture represents a marketplace listing built from a modification
type ListingFixture struct {
	ID             string
	ModificationID string
	Title          string
}

// CommunityProofFixture represents user-contributed evidence
type CommunityProofFixture struct {
	ID             string
	Brand          string
	PartName       string
	EvidenceType   string
	ApprovalNumber string
	Status         string
	ApprovedAt     time.Time
}

// FixtureFactory creates test fixtures with sensible defaults. When it holds
// a database handle, the Insert helpers write fixtures to the legality schema.
type FixtureFactory struct {
	mu       sync.Mutex
	sequence int
	db       *sqlx.DB
}

// NewFixtureFactory creates a new fixture factory. db may be nil for unit tests.
func NewFixtureFactory(db *sqlx.DB) *FixtureFactory {
	return &FixtureFactory{db: db}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
	return f.sequence
}

// Vehicle creates a vehicle fixture with defaults
func (f *FixtureFactory) Vehicle(opts ...func(*VehicleFixture)) VehicleFixture {
	v := VehicleFixture{
		ID:      uuid.New().String(),
		Make:    "VW",
		Model:   "Golf 7",
		Year:    2016,
		StateID: "BY",
	}
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// WithState sets the registered state of the vehicle
func WithState(stateID string) func(*VehicleFixture) {
	return func(v *VehicleFixture) {
		v.StateID = stateID
	}
}

// WithVehicle sets make, model and year
func WithVehicle(vehicleMake, model string, year int) func(*VehicleFixture) {
	return func(v *VehicleFixture) {
		v.Make, v.Model, v.Year = vehicleMake, model, year
	}
}

// Modification creates a modification fixture with defaults
func (f *FixtureFactory) Modification(opts ...func(*ModificationFixture)) ModificationFixture {
	seq := f.nextSeq()
	m := ModificationFixture{
		ID:         uuid.New().String(),
		PartName:   fmt.Sprintf("Test Part %d", seq),
		Brand:      "KW",
		Category:   "suspension",
		Parameters: "{}",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// WithPart sets brand, part name and category
func WithPart(brand, partName, category string) func(*ModificationFixture) {
	return func(m *ModificationFixture) {
		m.Brand, m.PartName, m.Category = brand, partName, category
	}
}

// WithParameters sets the raw parameter JSON
func WithParameters(raw string) func(*ModificationFixture) {
	return func(m *ModificationFixture) {
		m.Parameters = raw
	}
}

// WithTuvStatus sets the declared status
func WithTuvStatus(status string) func(*ModificationFixture) {
	return func(m *ModificationFixture) {
		m.TuvStatus = status
	}
}

// OnVehicle links the modification to a vehicle
func OnVehicle(vehicleID string) func(*ModificationFixture) {
	return func(m *ModificationFixture) {
		m.VehicleID = vehicleID
	}
}

// Listing creates a listing fixture for the modification
func (f *FixtureFactory) Listing(modificationID string) ListingFixture {
	return ListingFixture{
		ID:             uuid.New().String(),
		ModificationID: modificationID,
		Title:          fmt.Sprintf("Listing %d", f.nextSeq()),
	}
}

// CommunityProof creates an approved community proof fixture
func (f *FixtureFactory) CommunityProof(brand, partName string, opts ...func(*CommunityProofFixture)) CommunityProofFixture {
	p := CommunityProofFixture{
		ID:           uuid.New().String(),
		Brand:        brand,
		PartName:     partName,
		EvidenceType: "EINTRAGUNG",
		Status:       "approved",
		ApprovedAt:   time.Now().UTC().Add(-time.Duration(f.nextSeq()) * time.Hour),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (f *FixtureFactory) requireDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if f.db == nil {
		t.Fatal("fixture factory has no database")
	}
	return f.db
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertVehicle writes the vehicle
func (f *FixtureFactory) InsertVehicle(t *testing.T, ctx context.Context, v VehicleFixture) {
	t.Helper()
	_, err := f.requireDB(t).ExecContext(ctx,
		`INSERT INTO vehicles (id, make, model, year, state_id) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.Make, v.Model, v.Year, nullable(v.StateID))
	if err != nil {
		t.Fatalf("insert vehicle: %v", err)
	}
}

// InsertModification writes the modification
func (f *FixtureFactory) InsertModification(t *testing.T, ctx context.Context, m ModificationFixture) {
	t.Helper()
	_, err := f.requireDB(t).ExecContext(ctx,
		`INSERT INTO modifications (id, vehicle_id, part_name, brand, category, tuv_status, parameters)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, nullable(m.VehicleID), m.PartName, m.Brand, m.Category, nullable(m.TuvStatus), m.Parameters)
	if err != nil {
		t.Fatalf("insert modification: %v", err)
	}
}

// InsertDocument attaches an evidence document
func (f *FixtureFactory) InsertDocument(t *testing.T, ctx context.Context, modificationID, docType, number string) DocumentFixture {
	t.Helper()
	d := DocumentFixture{ID: uuid.New().String(), ModificationID: modificationID, Type: docType, DocumentNumber: number}
	_, err := f.requireDB(t).ExecContext(ctx,
		`INSERT INTO modification_documents (id, modification_id, type, document_number) VALUES ($1, $2, $3, $4)`,
		d.ID, d.ModificationID, d.Type, nullable(d.DocumentNumber))
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}
	return d
}

// InsertApproval attaches a structured approval document
func (f *FixtureFactory) InsertApproval(t *testing.T, ctx context.Context, modificationID, approvalType, number string) ApprovalFixture {
	t.Helper()
	a := ApprovalFixture{ID: uuid.New().String(), ModificationID: modificationID, ApprovalType: approvalType, ApprovalNumber: number}
	_, err := f.requireDB(t).ExecContext(ctx,
		`INSERT INTO approval_documents (id, modification_id, approval_type, approval_number, issuer) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.ModificationID, a.ApprovalType, nullable(a.ApprovalNumber), nullable(a.Issuer))
	if err != nil {
		t.Fatalf("insert approval: %v", err)
	}
	return a
}

// InsertListing writes the listing
func (f *FixtureFactory) InsertListing(t *testing.T, ctx context.Context, l ListingFixture) {
	t.Helper()
	_, err := f.requireDB(t).ExecContext(ctx,
		`INSERT INTO listings (id, modification_id, title) VALUES ($1, $2, $3)`,
		l.ID, l.ModificationID, l.Title)
	if err != nil {
		t.Fatalf("insert listing: %v", err)
	}
}

// InsertCommunityProof writes the proof
func (f *FixtureFactory) InsertCommunityProof(t *testing.T, ctx context.Context, p CommunityProofFixture) {
	t.Helper()
	_, err := f.requireDB(t).ExecContext(ctx,
		`INSERT INTO community_proofs (id, brand, part_name, evidence_type, approval_number, status, approved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Brand, p.PartName, p.EvidenceType, nullable(p.ApprovalNumber), p.Status, p.ApprovedAt)
	if err != nil {
		t.Fatalf("insert community proof: %v", err)
	}
}
