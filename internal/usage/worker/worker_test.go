package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	"github.com/smallbiznis/voxbill/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testMetrics = metrics.New()

type recordingUsageService struct {
	mu    sync.Mutex
	calls []Job
	done  chan struct{}
}

func (s *recordingUsageService) AddMinutesUsed(
	_ context.Context,
	subscriptionID snowflake.ID,
	minutes float64,
	callType cdrdomain.CallType,
) (*usagedomain.UsageRecord, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Job{SubscriptionID: subscriptionID, Minutes: minutes, CallType: callType})
	count := len(s.calls)
	s.mu.Unlock()
	if s.done != nil && count == cap(s.calls) {
		select {
		case s.done <- struct{}{}:
		default:
		}
	}
	return &usagedomain.UsageRecord{}, nil
}

func (s *recordingUsageService) GetCurrentUsage(context.Context, snowflake.ID) (*usagedomain.CurrentUsage, error) {
	return nil, nil
}

func (s *recordingUsageService) GetUsageHistory(context.Context, usagedomain.HistoryRequest) (usagedomain.HistoryResponse, error) {
	return usagedomain.HistoryResponse{}, nil
}

func (s *recordingUsageService) recorded() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.calls...)
}

func TestWorkerAppliesJobsInOrder(t *testing.T) {
	usage := &recordingUsageService{
		calls: make([]Job, 0, 3),
		done:  make(chan struct{}, 1),
	}
	w := NewWorker(Params{Log: zap.NewNop(), Metrics: testMetrics, Usage: usage})
	defer w.Stop()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	subID := node.Generate()

	w.Start(context.Background())

	require.True(t, w.Enqueue(Job{SubscriptionID: subID, Minutes: 1, CallType: cdrdomain.CallTypeLocal}))
	require.True(t, w.Enqueue(Job{SubscriptionID: subID, Minutes: 2, CallType: cdrdomain.CallTypeSTD}))
	require.True(t, w.Enqueue(Job{SubscriptionID: subID, Minutes: 3, CallType: cdrdomain.CallTypeISD}))

	select {
	case <-usage.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not drain the queue")
	}

	calls := usage.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, 1.0, calls[0].Minutes)
	assert.Equal(t, cdrdomain.CallTypeSTD, calls[1].CallType)
	assert.Equal(t, 3.0, calls[2].Minutes)
}

func TestStopDrainsQueuedJobs(t *testing.T) {
	usage := &recordingUsageService{calls: make([]Job, 0, 2)}
	w := NewWorker(Params{Log: zap.NewNop(), Metrics: testMetrics, Usage: usage})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	subID := node.Generate()

	// Enqueue before the consumer starts, then stop immediately.
	require.True(t, w.Enqueue(Job{SubscriptionID: subID, Minutes: 1, CallType: cdrdomain.CallTypeLocal}))
	require.True(t, w.Enqueue(Job{SubscriptionID: subID, Minutes: 2, CallType: cdrdomain.CallTypeLocal}))

	w.Start(context.Background())
	w.Stop()

	assert.Eventually(t, func() bool {
		return len(usage.recorded()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
