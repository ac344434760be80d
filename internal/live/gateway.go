package live

import (
	"context"
	"sync"

	"github.com/smallbiznis/voxbill/internal/esl"
	obsmetrics "github.com/smallbiznis/voxbill/internal/observability/metrics"
	"github.com/smallbiznis/voxbill/internal/registry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultQueueDepth = 1024

type GatewayParams struct {
	fx.In

	Log      *zap.Logger
	Registry *registry.Registry
	Hub      *Hub
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Gateway serializes Snapshot production: the connector callback enqueues,
// a single drain goroutine feeds the Registry and broadcasts each produced
// Snapshot in generation order. The channel plus one consumer replaces a
// manual re-entrancy flag.
type Gateway struct {
	log      *zap.Logger
	registry *registry.Registry
	hub      *Hub
	metrics  *obsmetrics.Metrics

	queue chan esl.Event
	start sync.Once
	stop  sync.Once
	done  chan struct{}
}

func NewGateway(p GatewayParams) *Gateway {
	return &Gateway{
		log:      p.Log.Named("live.gateway"),
		registry: p.Registry,
		hub:      p.Hub,
		metrics:  p.Metrics,
		queue:    make(chan esl.Event, defaultQueueDepth),
		done:     make(chan struct{}),
	}
}

// Enqueue accepts one event from the connector's read loop. Arrivals during
// a drain are queued, never dropped; a full queue applies backpressure to
// the socket reader.
func (g *Gateway) Enqueue(event esl.Event) {
	select {
	case g.queue <- event:
	case <-g.done:
	}
}

// Start launches the single drain goroutine.
func (g *Gateway) Start(ctx context.Context) {
	g.start.Do(func() {
		go g.drain(ctx)
	})
}

// Stop is idempotent.
func (g *Gateway) Stop() {
	g.stop.Do(func() {
		close(g.done)
	})
}

func (g *Gateway) drain(ctx context.Context) {
	for {
		select {
		case event := <-g.queue:
			snapshot, changed := g.registry.Process(event)
			if !changed {
				continue
			}
			if g.metrics != nil {
				g.metrics.ActiveCalls.Set(float64(snapshot.ActiveCallCount))
			}
			g.hub.Publish(snapshot)
		case <-ctx.Done():
			return
		case <-g.done:
			return
		}
	}
}
