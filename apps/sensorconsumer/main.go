package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/audit"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	"github.com/smallbiznis/parkway/internal/garage"
	"github.com/smallbiznis/parkway/internal/observability"
	"github.com/smallbiznis/parkway/internal/sensor"
	"github.com/smallbiznis/parkway/internal/sensor/consumer"
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

		authorization.Module,
		audit.Module,
		garage.Module,
		sensor.Module,

		consumer.Module,
		consumer.OpsModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
