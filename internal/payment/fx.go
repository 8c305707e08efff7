package payment

import (
	"github.com/orbitcart/payments/internal/payment/repository"
	"github.com/orbitcart/payments/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
