package live

import (
	"testing"

	"github.com/smallbiznis/voxbill/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWithCount(n int) registry.Snapshot {
	return registry.Snapshot{ActiveCallCount: n}
}

func TestSubscribeDeliversLatestImmediately(t *testing.T) {
	hub := NewHub()
	hub.Publish(snapshotWithCount(3))

	sub, current := hub.Subscribe()
	defer sub.Close()

	// Late joiners render from the retained snapshot, not from zero.
	assert.Equal(t, 3, current.ActiveCallCount)
}

func TestPublishFansOutInOrder(t *testing.T) {
	hub := NewHub()
	sub, _ := hub.Subscribe()
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		hub.Publish(snapshotWithCount(i))
	}

	for want := 1; want <= 3; want++ {
		got := <-sub.Snapshots()
		assert.Equal(t, want, got.ActiveCallCount)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()
	sub, _ := hub.Subscribe()
	defer sub.Close()

	// Overrun the subscriber buffer; Publish must not stall.
	for i := 0; i < defaultSubscriberBuffer*3; i++ {
		hub.Publish(snapshotWithCount(i))
	}

	assert.Equal(t, defaultSubscriberBuffer*3-1, hub.Current().ActiveCallCount)
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub, _ := hub.Subscribe()

	sub.Close()
	sub.Close()

	// A closed subscription no longer receives publishes.
	hub.Publish(snapshotWithCount(1))
	select {
	case got, ok := <-sub.Snapshots():
		if ok {
			require.Fail(t, "unexpected delivery", "snapshot %+v", got)
		}
	default:
	}
}
