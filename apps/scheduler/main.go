package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/audit"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	"github.com/smallbiznis/parkway/internal/garage"
	"github.com/smallbiznis/parkway/internal/observability"
	"github.com/smallbiznis/parkway/internal/scheduler"
	"github.com/smallbiznis/parkway/internal/token"
	"github.com/smallbiznis/parkway/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		authorization.Module,
		audit.Module,
		garage.Module,
		token.Module,

		// No server module!
		scheduler.Module,
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
