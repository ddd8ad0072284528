package researchtypes

import "time"

// SessionStatus is the lifecycle state of one submitted query.
type SessionStatus string

// Session statuses. Completed, Errored and Cancelled are terminal.
const (
	SessionIdle      SessionStatus = "idle"
	SessionSubmitted SessionStatus = "submitted"
	SessionStreaming SessionStatus = "streaming"
	SessionCompleted SessionStatus = "completed"
	SessionErrored   SessionStatus = "errored"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transition can leave the status.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionErrored, SessionCancelled:
		return true
	default:
		return false
	}
}

// ProgressStep is a transient record of one progress event. Steps live only
// for the duration of a single session and are never persisted.
type ProgressStep struct {
	StepLabel       string    `json:"stepLabel" yaml:"stepLabel"`
	ActionSummary   string    `json:"actionSummary" yaml:"actionSummary"`
	ThoughtsSummary string    `json:"thoughtsSummary,omitempty" yaml:"thoughtsSummary,omitempty"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
}

// SessionSnapshot is a point-in-time copy of a session's transient state.
type SessionSnapshot struct {
	ConversationID string         `json:"conversationId" yaml:"conversationId"`
	Status         SessionStatus  `json:"status" yaml:"status"`
	Steps          []ProgressStep `json:"steps" yaml:"steps"`
}

// Bot message texts for failures that happen outside a parsed stream event.
const (
	SubmissionFailedMessage = "An error occurred. Please try again."
	ConnectionLostMessage   = "Connection to the research service was lost."
)
