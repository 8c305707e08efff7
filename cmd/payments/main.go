package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/orbitcart/payments/internal/clock"
	"github.com/orbitcart/payments/internal/config"
	"github.com/orbitcart/payments/internal/gateway"
	"github.com/orbitcart/payments/internal/logger"
	"github.com/orbitcart/payments/internal/membership"
	"github.com/orbitcart/payments/internal/migration"
	"github.com/orbitcart/payments/internal/observability/metrics"
	"github.com/orbitcart/payments/internal/order"
	"github.com/orbitcart/payments/internal/payment"
	"github.com/orbitcart/payments/internal/point"
	"github.com/orbitcart/payments/internal/product"
	"github.com/orbitcart/payments/internal/ratelimit"
	"github.com/orbitcart/payments/internal/refund"
	"github.com/orbitcart/payments/internal/server"
	"github.com/orbitcart/payments/internal/user"
	"github.com/orbitcart/payments/internal/webhook"
	"github.com/orbitcart/payments/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		metrics.Module,
		ratelimit.Module,

		// Functional domains
		order.Module,
		product.Module,
		user.Module,
		point.Module,
		membership.Module,
		gateway.Module,
		payment.Module,
		refund.Module,
		webhook.Module,

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
