package repository

import (
	"context"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/pkg/database"
	"github.com/buildpass/buildpass-backend/pkg/errors"
)

type listingRow struct {
	ID                   string `db:"id"`
	ModificationID       string `db:"modification_id"`
	IsFullyLegal         bool   `db:"is_fully_legal"`
	RequiresRegistration bool   `db:"requires_registration"`
	RequiresInspection   bool   `db:"requires_inspection"`
	snapshotColumns
}

// ListingRepository maintains the legality mirror on marketplace listings
type ListingRepository struct {
	db *database.DB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *database.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// ListByModification returns every listing built from the modification
func (r *ListingRepository) ListByModification(ctx context.Context, modificationID string) ([]domain.Listing, error) {
	var rows []listingRow
	query := `
		SELECT id, modification_id, is_fully_legal, requires_registration, requires_inspection,
			legality_status, legality_approval_type, legality_approval_number, legality_source_id,
			legality_source_url, legality_notes, reference_fingerprint, legality_checked_at
		FROM listings
		WHERE modification_id = $1
		ORDER BY id ASC
	`
	if err := r.db.SelectContext(ctx, &rows, query, modificationID); err != nil {
		return nil, err
	}

	listings := make([]domain.Listing, 0, len(rows))
	for _, row := range rows {
		listings = append(listings, domain.Listing{
			ID:             row.ID,
			ModificationID: row.ModificationID,
			Mirror: domain.ListingMirror{
				Snapshot:             row.snapshotColumns.toDomain(),
				IsFullyLegal:         row.IsFullyLegal,
				RequiresRegistration: row.RequiresRegistration,
				RequiresInspection:   row.RequiresInspection,
			},
		})
	}
	return listings, nil
}

// UpdateMirror overwrites the legality columns of one listing
func (r *ListingRepository) UpdateMirror(ctx context.Context, listingID string, m domain.ListingMirror) error {
	query := `
		UPDATE listings SET
			legality_status = $2,
			legality_approval_type = $3,
			legality_approval_number = $4,
			legality_source_id = $5,
			legality_source_url = $6,
			legality_notes = $7,
			reference_fingerprint = $8,
			legality_checked_at = $9,
			is_fully_legal = $10,
			requires_registration = $11,
			requires_inspection = $12,
			updated_at = NOW()
		WHERE id = $1
	`
	args := append([]any{listingID}, snapshotArgs(m.Snapshot)...)
	args = append(args, m.IsFullyLegal, m.RequiresRegistration, m.RequiresInspection)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("listing")
	}
	return nil
}
