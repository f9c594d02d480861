package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/pkg/database"
	"github.com/buildpass/buildpass-backend/pkg/errors"
)

// snapshotColumns are stored on modifications and mirrored on listings
type snapshotColumns struct {
	Status               sql.NullString `db:"legality_status"`
	ApprovalType         sql.NullString `db:"legality_approval_type"`
	ApprovalNumber       sql.NullString `db:"legality_approval_number"`
	SourceID             sql.NullString `db:"legality_source_id"`
	SourceURL            sql.NullString `db:"legality_source_url"`
	Notes                sql.NullString `db:"legality_notes"`
	ReferenceFingerprint sql.NullString `db:"reference_fingerprint"`
	CheckedAt            sql.NullTime   `db:"legality_checked_at"`
}

func (c snapshotColumns) toDomain() domain.Snapshot {
	s := domain.Snapshot{
		Status:               domain.LegalityStatus(c.Status.String),
		ApprovalType:         domain.ApprovalType(c.ApprovalType.String),
		ApprovalNumber:       c.ApprovalNumber.String,
		SourceID:             domain.SourceID(c.SourceID.String),
		SourceURL:            c.SourceURL.String,
		Notes:                c.Notes.String,
		ReferenceFingerprint: c.ReferenceFingerprint.String,
	}
	if c.CheckedAt.Valid {
		t := c.CheckedAt.Time.UTC()
		s.CheckedAt = &t
	}
	return s
}

// snapshotArgs are the positional values for the legality_* columns, in column order
func snapshotArgs(s domain.Snapshot) []any {
	return []any{
		nullString(string(s.Status)),
		nullString(string(s.ApprovalType)),
		nullString(s.ApprovalNumber),
		nullString(string(s.SourceID)),
		nullString(s.SourceURL),
		nullString(s.Notes),
		nullString(s.ReferenceFingerprint),
		s.CheckedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type modificationRow struct {
	ID         string         `db:"id"`
	VehicleID  sql.NullString `db:"vehicle_id"`
	PartName   string         `db:"part_name"`
	Brand      string         `db:"brand"`
	Category   string         `db:"category"`
	TuvStatus  sql.NullString `db:"tuv_status"`
	Parameters types.JSONText `db:"parameters"`
	UpdatedAt  time.Time      `db:"updated_at"`
	snapshotColumns
}

type vehicleRow struct {
	ID      string         `db:"id"`
	Make    string         `db:"make"`
	Model   string         `db:"model"`
	Year    sql.NullInt64  `db:"year"`
	StateID sql.NullString `db:"state_id"`
}

type documentRow struct {
	ID             string         `db:"id"`
	Type           string         `db:"type"`
	DocumentNumber sql.NullString `db:"document_number"`
}

type approvalRow struct {
	ID             string         `db:"id"`
	ApprovalType   string         `db:"approval_type"`
	ApprovalNumber sql.NullString `db:"approval_number"`
	Issuer         sql.NullString `db:"issuer"`
	ValidFrom      *domain.Date   `db:"valid_from"`
	ValidUntil     *domain.Date   `db:"valid_until"`
}

// ModificationRepository reads modifications and writes their legality snapshot
type ModificationRepository struct {
	db *database.DB
}

// NewModificationRepository creates a new modification repository
func NewModificationRepository(db *database.DB) *ModificationRepository {
	return &ModificationRepository{db: db}
}

// GetForAssessment loads a modification with its documents, approvals and vehicle
func (r *ModificationRepository) GetForAssessment(ctx context.Context, id string) (*domain.Modification, error) {
	var row modificationRow
	query := `
		SELECT id, vehicle_id, part_name, brand, category, tuv_status, parameters, updated_at,
			legality_status, legality_approval_type, legality_approval_number, legality_source_id,
			legality_source_url, legality_notes, reference_fingerprint, legality_checked_at
		FROM modifications
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.NotFound("modification")
		}
		return nil, err
	}

	m := &domain.Modification{
		ID:         row.ID,
		VehicleID:  row.VehicleID.String,
		PartName:   row.PartName,
		Brand:      row.Brand,
		Category:   domain.Category(row.Category),
		TuvStatus:  domain.ParseTuvStatus(row.TuvStatus.String),
		Parameters: domain.ParseUserParametersJSON(row.Parameters),
		Snapshot:   row.snapshotColumns.toDomain(),
		UpdatedAt:  row.UpdatedAt,
	}

	var docs []documentRow
	query = `
		SELECT id, type, document_number
		FROM modification_documents
		WHERE modification_id = $1
		ORDER BY created_at ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &docs, query, id); err != nil {
		return nil, err
	}
	for _, d := range docs {
		m.Documents = append(m.Documents, domain.Document{
			ID:             d.ID,
			Type:           domain.ParseEvidenceType(d.Type),
			DocumentNumber: d.DocumentNumber.String,
		})
	}

	var approvals []approvalRow
	query = `
		SELECT id, approval_type, approval_number, issuer, valid_from, valid_until
		FROM approval_documents
		WHERE modification_id = $1
		ORDER BY created_at ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &approvals, query, id); err != nil {
		return nil, err
	}
	for _, a := range approvals {
		m.Approvals = append(m.Approvals, domain.ApprovalDocument{
			ID:             a.ID,
			ApprovalType:   domain.ParseEvidenceType(a.ApprovalType),
			ApprovalNumber: a.ApprovalNumber.String,
			Issuer:         a.Issuer.String,
			ValidFrom:      a.ValidFrom,
			ValidUntil:     a.ValidUntil,
		})
	}

	if m.VehicleID != "" {
		var v vehicleRow
		query = `SELECT id, make, model, year, state_id FROM vehicles WHERE id = $1`
		err := r.db.GetContext(ctx, &v, query, m.VehicleID)
		switch {
		case err == nil:
			m.Vehicle = &domain.Vehicle{
				ID:      v.ID,
				Make:    v.Make,
				Model:   v.Model,
				Year:    int(v.Year.Int64),
				StateID: v.StateID.String,
			}
		case isNoRows(err):
			// dangling vehicle id, assess without vehicle data
		default:
			return nil, err
		}
	}

	return m, nil
}

// UpdateSnapshot writes the legality snapshot onto one modification row
func (r *ModificationRepository) UpdateSnapshot(ctx context.Context, id string, s domain.Snapshot) error {
	query := `
		UPDATE modifications SET
			legality_status = $2,
			legality_approval_type = $3,
			legality_approval_number = $4,
			legality_source_id = $5,
			legality_source_url = $6,
			legality_notes = $7,
			reference_fingerprint = $8,
			legality_checked_at = $9,
			updated_at = NOW()
		WHERE id = $1
	`
	args := append([]any{id}, snapshotArgs(s)...)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("modification")
	}
	return nil
}
