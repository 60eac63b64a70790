package garage

import (
	"github.com/smallbiznis/parkway/internal/garage/repository"
	"github.com/smallbiznis/parkway/internal/garage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("garage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
