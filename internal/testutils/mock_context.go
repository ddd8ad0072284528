package testutils

import (
	"fmt"
	"sync"

	"researchshell/pkg/researchtypes"
)

// MemorySink is an in-memory ConversationSink for session tests.
type MemorySink struct {
	mu        sync.Mutex
	messages  map[string][]researchtypes.Message
	completed map[string]bool

	// For testing error scenarios
	appendError error
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		messages:  make(map[string][]researchtypes.Message),
		completed: make(map[string]bool),
	}
}

// AppendBotMessage implements researchtypes.ConversationSink.
func (s *MemorySink) AppendBotMessage(conversationID string, msg researchtypes.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendError != nil {
		return s.appendError
	}
	if s.completed[conversationID] {
		return fmt.Errorf("conversation %s already completed", conversationID)
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.completed[conversationID] = true
	return nil
}

// SetAppendError makes subsequent appends fail with err.
func (s *MemorySink) SetAppendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendError = err
}

// Messages returns a copy of the messages appended for a conversation.
func (s *MemorySink) Messages(conversationID string) []researchtypes.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]researchtypes.Message(nil), s.messages[conversationID]...)
}

// Completed reports whether a terminal message was appended for the conversation.
func (s *MemorySink) Completed(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[conversationID]
}

// RecordingObserver captures every observer notification.
type RecordingObserver struct {
	mu       sync.Mutex
	Statuses []researchtypes.SessionStatus
	Steps    []researchtypes.ProgressStep
	Messages []researchtypes.Message
}

// OnStatus implements researchtypes.SessionObserver.
func (o *RecordingObserver) OnStatus(_ string, status researchtypes.SessionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Statuses = append(o.Statuses, status)
}

// OnProgress implements researchtypes.SessionObserver.
func (o *RecordingObserver) OnProgress(_ string, step researchtypes.ProgressStep) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Steps = append(o.Steps, step)
}

// OnMessage implements researchtypes.SessionObserver.
func (o *RecordingObserver) OnMessage(_ string, msg researchtypes.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Messages = append(o.Messages, msg)
}

// StatusHistory returns a copy of the observed statuses.
func (o *RecordingObserver) StatusHistory() []researchtypes.SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]researchtypes.SessionStatus(nil), o.Statuses...)
}

// RecordedEntry is one call captured by RecordingTrace.
type RecordedEntry struct {
	Kind    researchtypes.TraceKind
	Raw     string
	Derived any
}

// RecordingTrace is a TraceRecorder that keeps every call in memory.
type RecordingTrace struct {
	mu      sync.Mutex
	entries []RecordedEntry
}

// Record implements researchtypes.TraceRecorder.
func (r *RecordingTrace) Record(kind researchtypes.TraceKind, raw string, derived any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, RecordedEntry{Kind: kind, Raw: raw, Derived: derived})
}

// Kinds returns the recorded kinds in order.
func (r *RecordingTrace) Kinds() []researchtypes.TraceKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]researchtypes.TraceKind, len(r.entries))
	for i, e := range r.entries {
		kinds[i] = e.Kind
	}
	return kinds
}

// Entries returns a copy of every recorded call.
func (r *RecordingTrace) Entries() []RecordedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEntry(nil), r.entries...)
}

// CountingCloser counts Close calls.
type CountingCloser struct {
	mu    sync.Mutex
	calls int
}

// Close implements io.Closer.
func (c *CountingCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

// Calls returns how many times Close was called.
func (c *CountingCloser) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
