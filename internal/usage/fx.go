package usage

import (
	"github.com/smallbiznis/voxbill/internal/usage/service"
	"github.com/smallbiznis/voxbill/internal/usage/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(
		service.NewService,
		worker.NewWorker,
	),
)
