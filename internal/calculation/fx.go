package calculation

import (
	"github.com/smallbiznis/agrisubsidy/internal/calculation/repository"
	"github.com/smallbiznis/agrisubsidy/internal/calculation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("calculation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
