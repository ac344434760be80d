package esl

import (
	"strconv"
	"time"
)

// Well-known event headers consulted by the call pipeline. Everything else
// stays reachable through Raw.
const (
	HeaderEventName      = "Event-Name"
	HeaderUniqueID       = "Unique-ID"
	HeaderCallerUUID     = "Caller-Unique-ID"
	HeaderVariableUUID   = "variable_uuid"
	HeaderChannelState   = "Channel-State"
	HeaderCallState      = "Channel-Call-State"
	HeaderDirection      = "Call-Direction"
	HeaderCallerNumber   = "Caller-Caller-ID-Number"
	HeaderCalleeNumber   = "Caller-Destination-Number"
	HeaderOtherLegID     = "Other-Leg-Unique-ID"
	HeaderBridgeID       = "variable_bridge_uuid"
	HeaderBridgeAID      = "Bridge-A-Unique-ID"
	HeaderBridgeBID      = "Bridge-B-Unique-ID"
	HeaderSignalBond     = "variable_signal_bond"
	HeaderEventTimestamp = "Event-Date-Timestamp"
)

// Event is one decoded switch event. Parsed once at the ingestion boundary;
// never persisted.
type Event struct {
	Name         string
	UniqueID     string
	ChannelState string
	CallState    string
	Direction    string
	CallerNumber string
	CalleeNumber string
	Timestamp    time.Time

	// Correlation ids for bridged legs.
	OtherLegID string
	BridgeID   string
	BridgeAID  string
	BridgeBID  string
	SignalBond string

	// Raw keeps every header for forward compatibility.
	Raw map[string]string

	Body string
}

// ParseEvent lifts the headers the pipeline consults into named fields.
func ParseEvent(headers map[string]string, body string) Event {
	e := Event{
		Name:         headers[HeaderEventName],
		UniqueID:     headers[HeaderUniqueID],
		ChannelState: headers[HeaderChannelState],
		CallState:    headers[HeaderCallState],
		Direction:    headers[HeaderDirection],
		CallerNumber: headers[HeaderCallerNumber],
		CalleeNumber: headers[HeaderCalleeNumber],
		OtherLegID:   headers[HeaderOtherLegID],
		BridgeID:     headers[HeaderBridgeID],
		BridgeAID:    headers[HeaderBridgeAID],
		BridgeBID:    headers[HeaderBridgeBID],
		SignalBond:   headers[HeaderSignalBond],
		Raw:          headers,
		Body:         body,
	}
	if raw := headers[HeaderEventTimestamp]; raw != "" {
		// Microseconds since epoch.
		if usec, err := strconv.ParseInt(raw, 10, 64); err == nil {
			e.Timestamp = time.UnixMicro(usec).UTC()
		}
	}
	return e
}

// Get returns the raw header value for key, empty when absent.
func (e Event) Get(key string) string {
	if e.Raw == nil {
		return ""
	}
	return e.Raw[key]
}
