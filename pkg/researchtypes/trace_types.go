package researchtypes

import (
	"encoding/json"
	"time"
)

// TraceKind classifies a debug trace entry.
type TraceKind string

// Trace entry kinds.
const (
	TraceRequest        TraceKind = "request"
	TraceResponse       TraceKind = "response"
	TraceFrame          TraceKind = "frame"
	TraceProtocolError  TraceKind = "protocol_error"
	TraceEvent          TraceKind = "event"
	TraceTransition     TraceKind = "transition"
	TraceTransportError TraceKind = "transport_error"
)

// TraceEntry is one append-only record of the debug trace.
type TraceEntry struct {
	Kind         TraceKind       `json:"kind" yaml:"kind"`
	Timestamp    time.Time       `json:"timestamp" yaml:"timestamp"`
	RawPayload   string          `json:"rawPayload,omitempty" yaml:"rawPayload,omitempty"`
	DerivedEvent json.RawMessage `json:"derivedEvent,omitempty" yaml:"-"`
	Error        string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// DebugExport is the document produced by a debug export.
type DebugExport struct {
	ConversationID string          `json:"conversationId" yaml:"conversationId"`
	ExportedAt     time.Time       `json:"exportedAt" yaml:"exportedAt"`
	Session        SessionSnapshot `json:"session" yaml:"session"`
	Trace          []TraceEntry    `json:"trace" yaml:"trace"`
}
