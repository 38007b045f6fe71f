package farm

import (
	"github.com/smallbiznis/agrisubsidy/internal/farm/repository"
	"github.com/smallbiznis/agrisubsidy/internal/farm/service"
	"go.uber.org/fx"
)

var Module = fx.Module("farm.aggregator",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
