// Package trace keeps the append-only debug trace of the current session and
// exports it for offline inspection.
package trace

import (
	"encoding/json"
	"fmt"
	"sync"

	"researchshell/internal/testutils"
	"researchshell/pkg/researchtypes"
)

// Recorder is an in-memory, append-only list of trace entries.
// It implements researchtypes.TraceRecorder and is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	entries  []researchtypes.TraceEntry
	testMode researchtypes.TestModeProvider
}

// NewRecorder creates an empty recorder. A nil provider means production mode.
func NewRecorder(testMode researchtypes.TestModeProvider) *Recorder {
	return &Recorder{testMode: testMode}
}

// taggedEvent keeps the variant name next to a normalized event in the trace.
type taggedEvent struct {
	Kind  researchtypes.EventKind       `json:"kind"`
	Event researchtypes.NormalizedEvent `json:"event"`
}

// Record appends an entry. It never fails: when derived cannot be encoded the
// entry is kept with its Error field set instead.
func (r *Recorder) Record(kind researchtypes.TraceKind, raw string, derived any) {
	entry := researchtypes.TraceEntry{
		Kind:       kind,
		Timestamp:  testutils.GetCurrentTime(r.testMode),
		RawPayload: raw,
	}

	if ev, ok := derived.(researchtypes.NormalizedEvent); ok {
		derived = taggedEvent{Kind: ev.Kind(), Event: ev}
	}
	if err, ok := derived.(error); ok {
		entry.Error = err.Error()
		derived = nil
	}
	if derived != nil {
		data, err := json.Marshal(derived)
		if err != nil {
			entry.Error = fmt.Sprintf("failed to encode derived value: %v", err)
		} else {
			entry.DerivedEvent = data
		}
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Reset drops every entry. It is called when a new session starts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Entries returns a copy of the trace in recording order.
func (r *Recorder) Entries() []researchtypes.TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]researchtypes.TraceEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
