package refund

import (
	"github.com/orbitcart/payments/internal/refund/repository"
	"github.com/orbitcart/payments/internal/refund/service"
	"go.uber.org/fx"
)

var Module = fx.Module("refund",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
