package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/audit"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/availability"
	"github.com/smallbiznis/parkway/internal/booking"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	"github.com/smallbiznis/parkway/internal/garage"
	"github.com/smallbiznis/parkway/internal/migration"
	"github.com/smallbiznis/parkway/internal/observability"
	"github.com/smallbiznis/parkway/internal/occupancy"
	"github.com/smallbiznis/parkway/internal/payment"
	"github.com/smallbiznis/parkway/internal/providers/pdf"
	"github.com/smallbiznis/parkway/internal/ratelimit"
	"github.com/smallbiznis/parkway/internal/sensor"
	"github.com/smallbiznis/parkway/internal/server"
	"github.com/smallbiznis/parkway/internal/token"
	"github.com/smallbiznis/parkway/internal/user"
	"github.com/smallbiznis/parkway/internal/wallet"
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
		migration.Module,

		authorization.Module,
		audit.Module,
		user.Module,
		garage.Module,
		availability.Module,
		wallet.Module,
		token.Module,
		booking.Module,
		payment.Module,
		sensor.Module,

		// Live occupancy is in-process, so the websocket only sees events
		// produced by this instance.
		occupancy.Module,
		pdf.Module,
		ratelimit.Module,
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
