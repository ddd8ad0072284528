package researchtypes

import (
	"errors"
	"fmt"
)

// Sentinel errors. Concrete errors wrap one of these so callers can classify
// failures with errors.Is.
var (
	// ErrTransport marks a failure of the initiating request or the event stream.
	ErrTransport = errors.New("transport error")
	// ErrProtocol marks a frame that could not be parsed or classified.
	ErrProtocol = errors.New("protocol error")
	// ErrInvalidState marks an action attempted against an invalid conversation state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound marks a reference to a conversation that does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrEmptyQuery marks a submission whose text is blank.
	ErrEmptyQuery = errors.New("query text is empty")
	// ErrSessionActive marks a submission while the conversation already has a query in flight.
	ErrSessionActive = errors.New("a query is already in progress for this conversation")
	// ErrSessionClosed marks an operation on a session that already reached a terminal state.
	ErrSessionClosed = errors.New("session already closed")
	// ErrPersistence marks a failure to flush state to durable storage.
	ErrPersistence = errors.New("persistence error")
)

// StateError is returned when an action is rejected because of the current
// conversation state. It always matches ErrInvalidState.
type StateError struct {
	Op             string
	ConversationID string
	Reason         string
	Err            error
}

// NewStateError creates a StateError wrapping the given cause.
func NewStateError(op, conversationID, reason string, cause error) *StateError {
	return &StateError{Op: op, ConversationID: conversationID, Reason: reason, Err: cause}
}

func (e *StateError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.ConversationID, e.Reason)
}

// Unwrap exposes the specific cause.
func (e *StateError) Unwrap() error {
	return e.Err
}

// Is makes every StateError match ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NormalizationErrorKind describes why a frame could not be normalized.
type NormalizationErrorKind string

// Normalization error kinds.
const (
	NormalizationMalformed    NormalizationErrorKind = "malformed"
	NormalizationUnknownShape NormalizationErrorKind = "unknown_shape"
)

// NormalizationError is returned by the normalizer for frames it cannot turn
// into a NormalizedEvent. It is non-fatal to the session.
type NormalizationError struct {
	Kind     NormalizationErrorKind
	RawFrame string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s frame: %s", e.Kind, e.Reason)
}

// Is makes every NormalizationError match ErrProtocol.
func (e *NormalizationError) Is(target error) bool {
	return target == ErrProtocol
}
