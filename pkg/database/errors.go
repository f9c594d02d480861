package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/buildpass/buildpass-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514": // check_violation
		return mapCheckConstraint(pqErr)

	case "23505": // unique_violation
		return errors.Conflict(formatConstraintMessage(pqErr))

	case "23503": // foreign_key_violation
		return errors.BadRequest("referenced record does not exist")

	case "23502": // not_null_violation
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "category_valid"):
		return errors.Validation(map[string]string{
			"category": "must be one of: wheels, suspension, exhaust, brakes, aero, lighting, ecu, interior, safety, other",
		})
	case strings.Contains(constraint, "approval_type_valid"):
		return errors.Validation(map[string]string{
			"approval_type": "must be one of: NONE, ABE, ABG, EBE, TEILEGUTACHTEN, EINZELABNAHME_21, ECE, EINTRAGUNGSPFLICHTIG",
		})
	case strings.Contains(constraint, "legality_status_valid"):
		return errors.Validation(map[string]string{
			"legality_status": "must be one of: UNKNOWN, FULLY_LEGAL, REGISTRATION_REQUIRED, INSPECTION_REQUIRED, ILLEGAL",
		})
	case strings.Contains(constraint, "tuv_status_valid"):
		return errors.Validation(map[string]string{
			"tuv_status": "must be one of: GREEN_REGISTERED, YELLOW_ABE, RED_RACING",
		})
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	switch {
	case strings.Contains(pqErr.Constraint, "fingerprint"):
		return "a reference entry with this fingerprint already exists"
	default:
		return "a record with these values already exists"
	}
}
