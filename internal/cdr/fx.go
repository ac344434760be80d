package cdr

import (
	"github.com/smallbiznis/voxbill/internal/cdr/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cdr.service",
	fx.Provide(service.NewService),
)
