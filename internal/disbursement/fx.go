package disbursement

import (
	"github.com/smallbiznis/agrisubsidy/internal/disbursement/repository"
	"github.com/smallbiznis/agrisubsidy/internal/disbursement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("disbursement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
