package webhook

import (
	"github.com/smallbiznis/corates/internal/webhook/repository"
	"github.com/smallbiznis/corates/internal/webhook/router"
	"github.com/smallbiznis/corates/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(router.NewRouter),
	fx.Provide(service.NewService),
)
