package migrations

import (
	"context"

	"github.com/cozy-creator/captioner/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewCreateTable().Model((*models.APIKey)(nil)).IfNotExists().Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewDropTable().Model((*models.APIKey)(nil)).IfExists().Exec(ctx)
		return err
	})
}
