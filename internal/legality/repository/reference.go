package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/pkg/database"
	"github.com/buildpass/buildpass-backend/pkg/errors"
)

const referenceColumns = `id, fingerprint, brand, part_name, category, subcategory, approval_type,
	approval_number, source_id, source_url, vehicle_compatibility, restrictions,
	critical_parameters, valid_from, valid_until, is_synthetic, updated_at`

// referenceRow is the database shape of a reference entry
type referenceRow struct {
	ID                   string             `db:"id"`
	Fingerprint          string             `db:"fingerprint"`
	Brand                string             `db:"brand"`
	PartName             string             `db:"part_name"`
	Category             string             `db:"category"`
	Subcategory          string             `db:"subcategory"`
	ApprovalType         string             `db:"approval_type"`
	ApprovalNumber       string             `db:"approval_number"`
	SourceID             string             `db:"source_id"`
	SourceURL            string             `db:"source_url"`
	VehicleCompatibility string             `db:"vehicle_compatibility"`
	Restrictions         pq.StringArray     `db:"restrictions"`
	CriticalParameters   types.NullJSONText `db:"critical_parameters"`
	ValidFrom            *domain.Date       `db:"valid_from"`
	ValidUntil           *domain.Date       `db:"valid_until"`
	IsSynthetic          bool               `db:"is_synthetic"`
	UpdatedAt            time.Time          `db:"updated_at"`
}

func (r referenceRow) toDomain() (domain.ReferenceEntry, error) {
	e := domain.ReferenceEntry{
		ID:                   r.ID,
		Brand:                r.Brand,
		PartName:             r.PartName,
		Category:             domain.Category(r.Category),
		Subcategory:          r.Subcategory,
		ApprovalType:         domain.ApprovalType(r.ApprovalType),
		ApprovalNumber:       r.ApprovalNumber,
		SourceID:             domain.SourceID(r.SourceID),
		SourceURL:            r.SourceURL,
		VehicleCompatibility: r.VehicleCompatibility,
		Restrictions:         []string(r.Restrictions),
		ValidFrom:            r.ValidFrom,
		ValidUntil:           r.ValidUntil,
		IsSynthetic:          r.IsSynthetic,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.CriticalParameters.Valid && len(r.CriticalParameters.JSONText) > 0 {
		var cp domain.CriticalParameters
		if err := json.Unmarshal(r.CriticalParameters.JSONText, &cp); err != nil {
			return e, fmt.Errorf("reference entry %s: critical parameters: %w", r.ID, err)
		}
		if !cp.IsEmpty() {
			e.CriticalParameters = &cp
		}
	}
	return e, nil
}

// ReferenceRepository is the mutable, database-backed overlay of the reference catalog
type ReferenceRepository struct {
	db *database.DB
}

// NewReferenceRepository creates a new reference repository
func NewReferenceRepository(db *database.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// FindCandidates returns entries whose approval number contains approvalNumber.
// When that finds nothing, or no number is given, entries with the same brand
// (case-insensitive) and category are returned instead. Primary-sourced entries
// come first, then the most recently updated.
func (r *ReferenceRepository) FindCandidates(ctx context.Context, approvalNumber, brand string, category domain.Category, limit int) ([]domain.ReferenceEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	if compact := domain.CompactApprovalNumber(approvalNumber); compact != "" {
		query := `
			SELECT ` + referenceColumns + `
			FROM reference_entries
			WHERE approval_number_compact <> '' AND strpos(approval_number_compact, $1) > 0
			ORDER BY is_synthetic ASC, updated_at DESC, fingerprint ASC
			LIMIT $2
		`
		entries, err := r.selectEntries(ctx, query, compact, limit)
		if err != nil || len(entries) > 0 {
			return entries, err
		}
	}

	brand = strings.TrimSpace(brand)
	if brand == "" {
		return nil, nil
	}
	query := `
		SELECT ` + referenceColumns + `
		FROM reference_entries
		WHERE lower(brand) = lower($1) AND ($2 = '' OR category = $2)
		ORDER BY is_synthetic ASC, updated_at DESC, fingerprint ASC
		LIMIT $3
	`
	return r.selectEntries(ctx, query, brand, string(category), limit)
}

func (r *ReferenceRepository) selectEntries(ctx context.Context, query string, args ...any) ([]domain.ReferenceEntry, error) {
	var rows []referenceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	entries := make([]domain.ReferenceEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetByFingerprint returns one entry by its identity
func (r *ReferenceRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.ReferenceEntry, error) {
	var row referenceRow
	query := `SELECT ` + referenceColumns + ` FROM reference_entries WHERE fingerprint = $1`
	if err := r.db.GetContext(ctx, &row, query, fingerprint); err != nil {
		if isNoRows(err) {
			return nil, errors.NotFound("reference entry")
		}
		return nil, err
	}
	e, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Upsert inserts the entry or updates the row with the same fingerprint.
// It reports whether a new row was created.
func (r *ReferenceRepository) Upsert(ctx context.Context, e *domain.ReferenceEntry) (bool, error) {
	return upsertReference(ctx, r.db, e)
}

// ImportResult counts the outcome of a batch upsert
type ImportResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// UpsertBatch upserts all entries in one transaction
func (r *ReferenceRepository) UpsertBatch(ctx context.Context, entries []domain.ReferenceEntry) (ImportResult, error) {
	var result ImportResult
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for i := range entries {
			inserted, err := upsertReference(ctx, tx, &entries[i])
			if err != nil {
				return fmt.Errorf("upsert %q: %w", entries[i].Label(), err)
			}
			if inserted {
				result.Inserted++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

func upsertReference(ctx context.Context, q sqlx.QueryerContext, e *domain.ReferenceEntry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.ApprovalType = e.ApprovalType.OrNone()
	e.ApprovalNumber = domain.NormalizeApprovalNumber(e.ApprovalNumber)

	params := types.NullJSONText{}
	if !e.CriticalParameters.IsEmpty() {
		raw, err := json.Marshal(e.CriticalParameters)
		if err != nil {
			return false, err
		}
		params = types.NullJSONText{JSONText: raw, Valid: true}
	}
	restrictions := pq.StringArray(e.Restrictions)
	if restrictions == nil {
		restrictions = pq.StringArray{}
	}

	query := `
		INSERT INTO reference_entries (
			id, fingerprint, brand, part_name, category, subcategory, approval_type,
			approval_number, approval_number_compact, source_id, source_url,
			vehicle_compatibility, restrictions, critical_parameters,
			valid_from, valid_until, is_synthetic
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (fingerprint) DO UPDATE SET
			brand = EXCLUDED.brand,
			part_name = EXCLUDED.part_name,
			approval_number = EXCLUDED.approval_number,
			approval_number_compact = EXCLUDED.approval_number_compact,
			vehicle_compatibility = EXCLUDED.vehicle_compatibility,
			restrictions = EXCLUDED.restrictions,
			critical_parameters = EXCLUDED.critical_parameters,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_synthetic = EXCLUDED.is_synthetic,
			updated_at = NOW()
		RETURNING id, updated_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err := q.QueryRowxContext(ctx, query,
		e.ID, e.Fingerprint(), e.Brand, e.PartName, string(e.Category), e.Subcategory, string(e.ApprovalType),
		e.ApprovalNumber, domain.CompactApprovalNumber(e.ApprovalNumber), string(e.SourceID), e.SourceURL,
		e.VehicleCompatibility, restrictions, params,
		e.ValidFrom, e.ValidUntil, e.IsSynthetic,
	).Scan(&e.ID, &e.UpdatedAt, &inserted)
	if err != nil {
		return false, mapError(err)
	}
	return inserted, nil
}
