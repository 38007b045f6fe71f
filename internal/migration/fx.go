package migration

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/smallbiznis/agrisubsidy/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
		if err := Apply(conn, cfg.DBType); err != nil {
			return err
		}

		if !cfg.Bootstrap.SeedReferenceData {
			return nil
		}
		return seed.EnsureReferenceData(conn, node, log)
	}),
)
