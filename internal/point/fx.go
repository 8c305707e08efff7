package point

import (
	"github.com/orbitcart/payments/internal/point/service"
	"go.uber.org/fx"
)

var Module = fx.Module("point",
	fx.Provide(service.NewService),
)
