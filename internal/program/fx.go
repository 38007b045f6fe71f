package program

import (
	"github.com/smallbiznis/agrisubsidy/internal/program/repository"
	"github.com/smallbiznis/agrisubsidy/internal/program/service"
	"go.uber.org/fx"
)

var Module = fx.Module("program.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
