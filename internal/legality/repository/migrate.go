package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/buildpass/buildpass-backend/pkg/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every pending schema migration
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(database.DriverName); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate legality schema: %w", err)
	}
	return nil
}

// mapError turns constraint violations into AppErrors and leaves everything else untouched
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
