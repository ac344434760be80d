package rateplan

import (
	"github.com/smallbiznis/voxbill/internal/rateplan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rateplan.service",
	fx.Provide(service.NewService),
)
