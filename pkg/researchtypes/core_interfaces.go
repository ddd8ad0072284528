package researchtypes

// TestModeProvider reports whether deterministic test behaviour is enabled.
// Components that generate IDs or timestamps consult it.
type TestModeProvider interface {
	IsTestMode() bool
}

// ConversationSink receives the terminal bot message of a session.
// Appending a bot message closes the conversation.
type ConversationSink interface {
	AppendBotMessage(conversationID string, msg Message) error
}

// TraceRecorder captures raw payloads and derived events for debugging.
// Recording must never fail or affect control flow.
type TraceRecorder interface {
	Record(kind TraceKind, raw string, derived any)
}

// SessionObserver is notified of session progress so a user interface can
// render it as it happens. Callbacks run on the goroutine driving the session
// while it holds its lock; they must not block or call back into the session.
type SessionObserver interface {
	OnStatus(conversationID string, status SessionStatus)
	OnProgress(conversationID string, step ProgressStep)
	OnMessage(conversationID string, msg Message)
}

// NopObserver is a SessionObserver that ignores every notification.
type NopObserver struct{}

// OnStatus implements SessionObserver.
func (NopObserver) OnStatus(string, SessionStatus) {}

// OnProgress implements SessionObserver.
func (NopObserver) OnProgress(string, ProgressStep) {}

// OnMessage implements SessionObserver.
func (NopObserver) OnMessage(string, Message) {}

// NopRecorder is a TraceRecorder that discards everything.
type NopRecorder struct{}

// Record implements TraceRecorder.
func (NopRecorder) Record(TraceKind, string, any) {}
