package sensor

import (
	"github.com/smallbiznis/parkway/internal/sensor/repository"
	"github.com/smallbiznis/parkway/internal/sensor/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sensor.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
