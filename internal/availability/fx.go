package availability

import (
	"github.com/smallbiznis/parkway/internal/availability/repository"
	"github.com/smallbiznis/parkway/internal/availability/service"
	"go.uber.org/fx"
)

var Module = fx.Module("availability.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
