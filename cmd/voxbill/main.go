package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voxbill/internal/account"
	"github.com/smallbiznis/voxbill/internal/cache"
	"github.com/smallbiznis/voxbill/internal/cdr"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/esl"
	"github.com/smallbiznis/voxbill/internal/live"
	"github.com/smallbiznis/voxbill/internal/migration"
	"github.com/smallbiznis/voxbill/internal/observability/metrics"
	"github.com/smallbiznis/voxbill/internal/ratelimit"
	"github.com/smallbiznis/voxbill/internal/rateplan"
	"github.com/smallbiznis/voxbill/internal/server"
	"github.com/smallbiznis/voxbill/internal/subscription"
	"github.com/smallbiznis/voxbill/internal/usage"
	usageworker "github.com/smallbiznis/voxbill/internal/usage/worker"
	"github.com/smallbiznis/voxbill/pkg/db"
	"github.com/smallbiznis/voxbill/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,
		cache.Module,

		account.Module,
		rateplan.Module,
		subscription.Module,
		usage.Module,
		cdr.Module,
		ratelimit.Module,

		esl.Module,
		live.Module,
		server.Module,

		fx.Invoke(runTelephony),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// runTelephony wires the switch connector into the broadcast gateway and
// starts the event plumbing with the fx lifecycle.
func runTelephony(
	lc fx.Lifecycle,
	connector *esl.Connector,
	gateway *live.Gateway,
	worker *usageworker.Worker,
) {
	runCtx, cancel := context.WithCancel(context.Background())

	connector.OnEvent(gateway.Enqueue)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			worker.Start(runCtx)
			gateway.Start(runCtx)
			connector.Start(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			connector.Stop()
			gateway.Stop()
			worker.Stop()
			cancel()
			return nil
		},
	})
}
