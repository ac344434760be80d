// Package worker decouples CDR rating from usage accumulation. The rating
// transaction never waits on usage bookkeeping; it hands the increment to a
// single consumer goroutine instead.
package worker

import (
	"context"

	"github.com/bwmarrin/snowflake"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	"github.com/smallbiznis/voxbill/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const queueSize = 4096

// Job is one usage increment for a rated call.
type Job struct {
	SubscriptionID snowflake.ID
	Minutes        float64
	CallType       cdrdomain.CallType
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Metrics *metrics.Metrics
	Usage   usagedomain.Service
}

// Worker applies usage increments off the rating path. A single consumer
// drains the queue, so updates for the same subscription are applied in
// submission order.
type Worker struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	usage   usagedomain.Service
	queue   chan Job
	done    chan struct{}
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:     p.Log.Named("usage.worker"),
		metrics: p.Metrics,
		usage:   p.Usage,
		queue:   make(chan Job, queueSize),
		done:    make(chan struct{}),
	}
}

// Enqueue hands a job to the consumer without blocking. A full queue drops
// the job; the usage record catches up on the next successful increment only
// if callers re-rate, so drops are counted and logged.
func (w *Worker) Enqueue(job Job) bool {
	select {
	case w.queue <- job:
		w.metrics.UsageJobsEnqueued.Inc()
		return true
	default:
		w.metrics.UsageJobsDropped.Inc()
		w.log.Warn("usage queue full, dropping job",
			zap.String("subscription_id", job.SubscriptionID.String()),
			zap.Float64("minutes", job.Minutes),
		)
		return false
	}
}

// Start launches the consumer. It returns immediately; the consumer exits
// when ctx is canceled or Stop is called, after draining whatever is queued.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case job := <-w.queue:
			w.apply(ctx, job)
		case <-ctx.Done():
			w.drain()
			return
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case job := <-w.queue:
			w.apply(context.Background(), job)
		default:
			return
		}
	}
}

func (w *Worker) apply(ctx context.Context, job Job) {
	if _, err := w.usage.AddMinutesUsed(ctx, job.SubscriptionID, job.Minutes, job.CallType); err != nil {
		w.log.Error("failed to apply usage increment",
			zap.String("subscription_id", job.SubscriptionID.String()),
			zap.Float64("minutes", job.Minutes),
			zap.Error(err),
		)
	}
}

// Stop signals the consumer to drain and exit.
func (w *Worker) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
