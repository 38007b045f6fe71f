package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/audit"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/smallbiznis/agrisubsidy/internal/inventory"
	"github.com/smallbiznis/agrisubsidy/internal/lock"
	"github.com/smallbiznis/agrisubsidy/internal/observability"
	"github.com/smallbiznis/agrisubsidy/internal/scheduler"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"go.uber.org/fx"
)

// The standalone reconciler. It shares the API's database and takes the
// same redis lease, so several replicas never scan the ledger twice.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		// Domain services required by the reconcile job
		authorization.Module,
		audit.Module,
		inventory.Module,

		// No server module, and reconciliation runs regardless of RECONCILE_ENABLED.
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
