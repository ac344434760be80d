package live

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/esl"
	"github.com/smallbiznis/voxbill/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T) (*Gateway, *Hub) {
	t.Helper()
	hub := NewHub()
	gw := NewGateway(GatewayParams{
		Log:      zap.NewNop(),
		Registry: registry.New(clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))),
		Hub:      hub,
	})
	t.Cleanup(gw.Stop)
	return gw, hub
}

func channelEvent(name, id string) esl.Event {
	return esl.ParseEvent(map[string]string{
		esl.HeaderEventName: name,
		esl.HeaderUniqueID:  id,
	}, "")
}

func receive(t *testing.T, sub *Subscription) registry.Snapshot {
	t.Helper()
	select {
	case snapshot := <-sub.Snapshots():
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return registry.Snapshot{}
	}
}

func TestGatewayPublishesSnapshotsInGenerationOrder(t *testing.T) {
	gw, hub := newTestGateway(t)
	sub, _ := hub.Subscribe()
	defer sub.Close()

	gw.Start(context.Background())

	gw.Enqueue(channelEvent("CHANNEL_CREATE", "call-1"))
	gw.Enqueue(channelEvent("CHANNEL_CREATE", "call-2"))
	gw.Enqueue(channelEvent("CHANNEL_HANGUP", "call-1"))

	assert.Equal(t, 1, receive(t, sub).ActiveCallCount)
	assert.Equal(t, 2, receive(t, sub).ActiveCallCount)

	final := receive(t, sub)
	require.Equal(t, 1, final.ActiveCallCount)
	assert.Equal(t, "call-2", final.ActiveCalls[0].ID)
}

func TestGatewaySkipsNoOpEvents(t *testing.T) {
	gw, hub := newTestGateway(t)
	sub, _ := hub.Subscribe()
	defer sub.Close()

	gw.Start(context.Background())

	// No call id: the registry treats it as a no-op, nothing is published.
	gw.Enqueue(esl.ParseEvent(map[string]string{esl.HeaderEventName: "HEARTBEAT"}, ""))
	gw.Enqueue(channelEvent("CHANNEL_CREATE", "call-1"))

	snapshot := receive(t, sub)
	assert.Equal(t, 1, snapshot.ActiveCallCount)
}

func TestEnqueueAfterStopDoesNotBlock(t *testing.T) {
	gw, _ := newTestGateway(t)
	gw.Stop()

	done := make(chan struct{})
	go func() {
		gw.Enqueue(channelEvent("CHANNEL_CREATE", "call-1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked after Stop")
	}
}
