package live

import (
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("live.gateway",
	fx.Provide(func(clk clock.Clock) *registry.Registry { return registry.New(clk) }),
	fx.Provide(NewHub),
	fx.Provide(NewGateway),
)
