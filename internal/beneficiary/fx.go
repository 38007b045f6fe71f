package beneficiary

import (
	"github.com/smallbiznis/agrisubsidy/internal/beneficiary/repository"
	"github.com/smallbiznis/agrisubsidy/internal/beneficiary/service"
	"go.uber.org/fx"
)

var Module = fx.Module("beneficiary.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
