package grant

import (
	"github.com/smallbiznis/corates/internal/grant/repository"
	"github.com/smallbiznis/corates/internal/grant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("grant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
