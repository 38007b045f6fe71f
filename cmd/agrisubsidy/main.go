package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/allocation"
	"github.com/smallbiznis/agrisubsidy/internal/audit"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"github.com/smallbiznis/agrisubsidy/internal/beneficiary"
	"github.com/smallbiznis/agrisubsidy/internal/calculation"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/smallbiznis/agrisubsidy/internal/disbursement"
	"github.com/smallbiznis/agrisubsidy/internal/farm"
	"github.com/smallbiznis/agrisubsidy/internal/inventory"
	"github.com/smallbiznis/agrisubsidy/internal/lock"
	"github.com/smallbiznis/agrisubsidy/internal/migration"
	"github.com/smallbiznis/agrisubsidy/internal/observability"
	"github.com/smallbiznis/agrisubsidy/internal/program"
	"github.com/smallbiznis/agrisubsidy/internal/scheduler"
	"github.com/smallbiznis/agrisubsidy/internal/server"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,

		authorization.Module,
		audit.Module,

		// Subsidy domains
		inventory.Module,
		farm.Module,
		program.Module,
		allocation.Module,
		beneficiary.Module,
		calculation.Module,
		disbursement.Module,

		// The in-process reconciler only runs when RECONCILE_ENABLED is set.
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
