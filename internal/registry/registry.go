// Package registry derives a canonical call lifecycle from the switch's
// partially-redundant event vocabulary. It performs no I/O and holds no
// locks: the broadcast gateway is the single writer by contract.
package registry

import (
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/esl"
)

// CallRecord is one tracked active call. Owned exclusively by the Registry.
type CallRecord struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Direction string    `json:"direction"`
	Caller    string    `json:"caller"`
	Callee    string    `json:"callee"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is an immutable view of all active calls at one point in time.
type Snapshot struct {
	ActiveCallCount int          `json:"active_call_count"`
	ActiveCalls     []CallRecord `json:"active_calls"`
	LastEvent       esl.Event    `json:"-"`
}

// idHeaderPriority resolves the call id; first non-empty header wins.
var idHeaderPriority = []string{
	esl.HeaderUniqueID,
	esl.HeaderCallerUUID,
	esl.HeaderVariableUUID,
}

// correlationHeaders name the other legs swept on call end, guarding
// against orphaned bridge legs.
var correlationHeaders = []string{
	esl.HeaderOtherLegID,
	esl.HeaderBridgeID,
	esl.HeaderBridgeAID,
	esl.HeaderBridgeBID,
	esl.HeaderSignalBond,
}

var endEventNames = map[string]bool{
	"CHANNEL_DESTROY":         true,
	"CHANNEL_HANGUP":          true,
	"CHANNEL_HANGUP_COMPLETE": true,
}

var startEventNames = map[string]bool{
	"CHANNEL_CREATE": true,
	"CHANNEL_BRIDGE": true,
	"CHANNEL_ANSWER": true,
}

var terminalChannelStates = []string{"CS_HANGUP", "CS_DESTROY", "CS_REPORTING"}

var terminalCallStates = []string{"HANGUP", "DOWN"}

var startingCallStates = []string{"EARLY", "RINGING", "ACTIVE"}

// Registry tracks at most one active CallRecord per call id.
type Registry struct {
	calls map[string]CallRecord
	clock clock.Clock
}

func New(clk clock.Clock) *Registry {
	return &Registry{
		calls: make(map[string]CallRecord),
		clock: clk,
	}
}

// Process consumes one event. The returned Snapshot is valid only when the
// second return is true; unresolvable or unclassifiable events are a
// deliberate no-op.
func (r *Registry) Process(event esl.Event) (Snapshot, bool) {
	id := resolveID(event)
	if id == "" {
		return Snapshot{}, false
	}

	if isEnd(event) {
		r.remove(id)
		for _, key := range correlationHeaders {
			if other := strings.TrimSpace(event.Get(key)); other != "" {
				r.remove(other)
			}
		}
		return r.snapshot(event), true
	}

	if isStart(event) && trackableDirection(event.Direction) {
		record, ok := r.calls[id]
		if !ok {
			record = CallRecord{ID: id, CreatedAt: r.clock.Now()}
		}
		record.State = callState(event)
		// A refresh without identity headers keeps what the create leg set.
		if event.Direction != "" {
			record.Direction = event.Direction
		}
		if event.CallerNumber != "" {
			record.Caller = event.CallerNumber
		}
		if event.CalleeNumber != "" {
			record.Callee = event.CalleeNumber
		}
		r.calls[id] = record
		return r.snapshot(event), true
	}

	if record, ok := r.calls[id]; ok {
		record.State = callState(event)
		if strings.EqualFold(event.Direction, "inbound") {
			record.Direction = event.Direction
		}
		r.calls[id] = record
		return r.snapshot(event), true
	}

	return Snapshot{}, false
}

// ActiveCount returns the number of tracked calls.
func (r *Registry) ActiveCount() int {
	return len(r.calls)
}

// Current builds a Snapshot without consuming an event.
func (r *Registry) Current() Snapshot {
	return r.snapshot(esl.Event{})
}

func (r *Registry) remove(id string) {
	delete(r.calls, id)
}

func (r *Registry) snapshot(event esl.Event) Snapshot {
	calls := make([]CallRecord, 0, len(r.calls))
	for _, record := range r.calls {
		calls = append(calls, record)
	}
	sort.Slice(calls, func(i, j int) bool {
		if calls[i].CreatedAt.Equal(calls[j].CreatedAt) {
			return calls[i].ID < calls[j].ID
		}
		return calls[i].CreatedAt.Before(calls[j].CreatedAt)
	})
	return Snapshot{
		ActiveCallCount: len(calls),
		ActiveCalls:     calls,
		LastEvent:       event,
	}
}

func resolveID(event esl.Event) string {
	for _, key := range idHeaderPriority {
		if id := strings.TrimSpace(event.Get(key)); id != "" {
			return id
		}
	}
	return ""
}

func isEnd(event esl.Event) bool {
	if endEventNames[normalize(event.Name)] {
		return true
	}
	if matchesAny(normalize(event.ChannelState), terminalChannelStates) {
		return true
	}
	return matchesAny(normalize(event.CallState), terminalCallStates)
}

func isStart(event esl.Event) bool {
	if startEventNames[normalize(event.Name)] {
		return true
	}
	return matchesAny(normalize(event.CallState), startingCallStates)
}

func trackableDirection(direction string) bool {
	// Outbound legs of a bridged pair are never tracked as primary
	// entries, avoiding double counting.
	return direction == "" || strings.EqualFold(direction, "inbound")
}

func callState(event esl.Event) string {
	if event.CallState != "" {
		return event.CallState
	}
	if event.ChannelState != "" {
		return event.ChannelState
	}
	return event.Name
}

func normalize(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// matchesAny reports whether state matches token T exactly or begins with
// "T_" or "T ".
func matchesAny(state string, tokens []string) bool {
	if state == "" {
		return false
	}
	for _, token := range tokens {
		if state == token ||
			strings.HasPrefix(state, token+"_") ||
			strings.HasPrefix(state, token+" ") {
			return true
		}
	}
	return false
}
