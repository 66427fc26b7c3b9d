package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

// EnsureSchema is called by every service at boot. In dev with
// PUSHPAY_AUTO_MIGRATE set it applies pending migrations first; in every
// environment it refuses to continue while a payment table is missing.
func EnsureSchema(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if client == nil {
		return fmt.Errorf("db client is required")
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir})

	if cfg.App.IsDev() && cfg.App.AutoMigrate {
		sqlDB, err := client.DB().DB()
		if err != nil {
			return fmt.Errorf("extracting sql.DB: %w", err)
		}
		logg.Info(ctx, "migrate.autorun.start")
		if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
			return fmt.Errorf("running goose up: %w", err)
		}
	}

	if err := VerifySchema(client.DB()); err != nil {
		return err
	}
	logg.Info(ctx, "migrate.schema.verified")
	return nil
}
