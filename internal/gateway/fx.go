package gateway

import (
	gatewaydomain "github.com/orbitcart/payments/internal/gateway/domain"
	"github.com/orbitcart/payments/internal/gateway/portone"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(func(c *portone.Client) gatewaydomain.Verifier { return c }),
	fx.Provide(portone.NewClient),
)
