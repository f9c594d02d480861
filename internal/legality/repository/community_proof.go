package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/pkg/database"
)

type communityProofRow struct {
	ID             string         `db:"id"`
	Brand          string         `db:"brand"`
	PartName       string         `db:"part_name"`
	EvidenceType   string         `db:"evidence_type"`
	ApprovalNumber sql.NullString `db:"approval_number"`
	VehicleMake    sql.NullString `db:"vehicle_make"`
	VehicleModel   sql.NullString `db:"vehicle_model"`
	Note           sql.NullString `db:"note"`
	ApprovedAt     sql.NullTime   `db:"approved_at"`
}

// CommunityProofRepository reads moderated, user-contributed evidence
type CommunityProofRepository struct {
	db *database.DB
}

// NewCommunityProofRepository creates a new community proof repository
func NewCommunityProofRepository(db *database.DB) *CommunityProofRepository {
	return &CommunityProofRepository{db: db}
}

// FindApproved returns approved proofs for brand and part name, case-insensitive,
// most recently approved first
func (r *CommunityProofRepository) FindApproved(ctx context.Context, brand, partName string, limit int) ([]domain.CommunityProof, error) {
	brand, partName = strings.TrimSpace(brand), strings.TrimSpace(partName)
	if brand == "" || partName == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var rows []communityProofRow
	query := `
		SELECT id, brand, part_name, evidence_type, approval_number, vehicle_make, vehicle_model, note, approved_at
		FROM community_proofs
		WHERE status = 'approved' AND lower(brand) = lower($1) AND lower(part_name) = lower($2)
		ORDER BY approved_at DESC NULLS LAST, id ASC
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &rows, query, brand, partName, limit); err != nil {
		return nil, err
	}

	proofs := make([]domain.CommunityProof, 0, len(rows))
	for _, row := range rows {
		p := domain.CommunityProof{
			ID:             row.ID,
			Brand:          row.Brand,
			PartName:       row.PartName,
			EvidenceType:   domain.ParseEvidenceType(row.EvidenceType),
			ApprovalNumber: row.ApprovalNumber.String,
			VehicleMake:    row.VehicleMake.String,
			VehicleModel:   row.VehicleModel.String,
			Note:           row.Note.String,
		}
		if row.ApprovedAt.Valid {
			p.ApprovedAt = row.ApprovedAt.Time.UTC()
		}
		proofs = append(proofs, p)
	}
	return proofs, nil
}
