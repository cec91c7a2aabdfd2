package checkout

import (
	"github.com/smallbiznis/corates/internal/checkout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(service.NewStripeSessionCreator),
	fx.Provide(service.NewService),
)
