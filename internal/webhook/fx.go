package webhook

import (
	"github.com/orbitcart/payments/internal/webhook/repository"
	"github.com/orbitcart/payments/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
