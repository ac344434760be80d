package registry

import (
	"testing"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/esl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return New(clock.NewFakeClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)))
}

func event(headers map[string]string) esl.Event {
	return esl.ParseEvent(headers, "")
}

func TestCallLifecycle(t *testing.T) {
	r := newTestRegistry()

	snapshot, changed := r.Process(event(map[string]string{
		esl.HeaderEventName:    "CHANNEL_CREATE",
		esl.HeaderUniqueID:     "call-1",
		esl.HeaderDirection:    "inbound",
		esl.HeaderCallerNumber: "1001",
		esl.HeaderCalleeNumber: "+919812345678",
	}))
	require.True(t, changed)
	require.Equal(t, 1, snapshot.ActiveCallCount)
	assert.Equal(t, "call-1", snapshot.ActiveCalls[0].ID)
	assert.Equal(t, "1001", snapshot.ActiveCalls[0].Caller)

	// State refresh keeps the call active.
	snapshot, changed = r.Process(event(map[string]string{
		esl.HeaderEventName: "CHANNEL_CALLSTATE",
		esl.HeaderUniqueID:  "call-1",
		esl.HeaderCallState: "ACTIVE",
	}))
	require.True(t, changed)
	require.Equal(t, 1, snapshot.ActiveCallCount)
	assert.Equal(t, "ACTIVE", snapshot.ActiveCalls[0].State)

	snapshot, changed = r.Process(event(map[string]string{
		esl.HeaderEventName: "CHANNEL_HANGUP_COMPLETE",
		esl.HeaderUniqueID:  "call-1",
	}))
	require.True(t, changed)
	assert.Zero(t, snapshot.ActiveCallCount)
}

func TestOutboundLegNeverTracked(t *testing.T) {
	r := newTestRegistry()

	_, changed := r.Process(event(map[string]string{
		esl.HeaderEventName: "CHANNEL_CREATE",
		esl.HeaderUniqueID:  "leg-b",
		esl.HeaderDirection: "outbound",
	}))
	assert.False(t, changed)
	assert.Zero(t, r.ActiveCount())
}

func TestEndSweepsBridgedLegs(t *testing.T) {
	r := newTestRegistry()

	for _, id := range []string{"leg-a", "leg-b"} {
		_, changed := r.Process(event(map[string]string{
			esl.HeaderEventName: "CHANNEL_CREATE",
			esl.HeaderUniqueID:  id,
			esl.HeaderDirection: "inbound",
		}))
		require.True(t, changed)
	}
	require.Equal(t, 2, r.ActiveCount())

	snapshot, changed := r.Process(event(map[string]string{
		esl.HeaderEventName:  "CHANNEL_HANGUP",
		esl.HeaderUniqueID:   "leg-a",
		esl.HeaderOtherLegID: "leg-b",
	}))
	require.True(t, changed)
	assert.Zero(t, snapshot.ActiveCallCount)
}

func TestTerminalStatePrefixEndsCall(t *testing.T) {
	r := newTestRegistry()

	_, changed := r.Process(event(map[string]string{
		esl.HeaderEventName: "CHANNEL_CREATE",
		esl.HeaderUniqueID:  "call-1",
	}))
	require.True(t, changed)

	// CS_HANGUP arrives as a plain state event, not a hangup event.
	snapshot, changed := r.Process(event(map[string]string{
		esl.HeaderEventName:    "CHANNEL_STATE",
		esl.HeaderUniqueID:     "call-1",
		esl.HeaderChannelState: "CS_HANGUP",
	}))
	require.True(t, changed)
	assert.Zero(t, snapshot.ActiveCallCount)
}

func TestPrefixMatchRequiresSeparator(t *testing.T) {
	r := newTestRegistry()

	_, changed := r.Process(event(map[string]string{
		esl.HeaderEventName: "CHANNEL_CREATE",
		esl.HeaderUniqueID:  "call-1",
	}))
	require.True(t, changed)

	// DOWNLOAD must not match the terminal DOWN token.
	snapshot, changed := r.Process(event(map[string]string{
		esl.HeaderEventName: "CHANNEL_CALLSTATE",
		esl.HeaderUniqueID:  "call-1",
		esl.HeaderCallState: "DOWNLOAD",
	}))
	require.True(t, changed)
	assert.Equal(t, 1, snapshot.ActiveCallCount)
}

func TestUnresolvableIDIsNoOp(t *testing.T) {
	r := newTestRegistry()

	_, changed := r.Process(event(map[string]string{
		esl.HeaderEventName: "CHANNEL_CREATE",
	}))
	assert.False(t, changed)
}

func TestIDHeaderPriority(t *testing.T) {
	r := newTestRegistry()

	snapshot, changed := r.Process(event(map[string]string{
		esl.HeaderEventName:    "CHANNEL_CREATE",
		esl.HeaderCallerUUID:   "fallback-id",
		esl.HeaderVariableUUID: "variable-id",
	}))
	require.True(t, changed)
	require.Equal(t, 1, snapshot.ActiveCallCount)
	assert.Equal(t, "fallback-id", snapshot.ActiveCalls[0].ID)
}

func TestUpdateForUnknownCallIsNoOp(t *testing.T) {
	r := newTestRegistry()

	_, changed := r.Process(event(map[string]string{
		esl.HeaderEventName: "CHANNEL_CALLSTATE",
		esl.HeaderUniqueID:  "never-seen",
		esl.HeaderCallState: "HELD",
	}))
	assert.False(t, changed)
}
