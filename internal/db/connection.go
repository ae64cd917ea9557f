package db

import (
	"context"
	"fmt"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/db/drivers"
	"github.com/cozy-creator/captioner/internal/db/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"
)

func NewConnection(ctx context.Context, cfg *config.DBConfig) (drivers.Driver, error) {
	var (
		driver drivers.Driver
		err    error
	)
	switch cfg.Driver {
	case drivers.DriverSQLite:
		driver, err = drivers.NewSQLiteDriver(ctx, cfg.DSN)
	case drivers.DriverLibSQL:
		driver, err = drivers.NewLibSQLDriver(ctx, cfg.DSN)
	case drivers.DriverPG:
		driver, err = drivers.NewPGDriver(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("invalid database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	driver.GetDB().AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(cfg.Debug),
		bundebug.FromEnv("BUNDEBUG"),
	))

	return driver, nil
}

// CreateTables creates every table the service needs if it is missing.
func CreateTables(ctx context.Context, db *bun.DB) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, table := range models.Tables() {
			if _, err := tx.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}

		return nil
	})
}
