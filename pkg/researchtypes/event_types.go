package researchtypes

// EventKind names the variant of a NormalizedEvent.
type EventKind string

// Normalized event kinds.
const (
	EventKindProgress EventKind = "progress"
	EventKindAnswer   EventKind = "answer"
	EventKindError    EventKind = "error"
)

// DefaultRemoteErrorMessage is used when an error frame carries no message.
const DefaultRemoteErrorMessage = "An unknown error occurred"

// NormalizedEvent is the closed set of events the normalizer produces from raw
// stream frames. Only ProgressEvent, AnswerEvent and ErrorEvent implement it.
type NormalizedEvent interface {
	Kind() EventKind
	isNormalizedEvent()
}

// ProgressEvent reports an intermediate research step.
type ProgressEvent struct {
	Step            string `json:"step" yaml:"step"`
	ActionSummary   string `json:"actionSummary" yaml:"actionSummary"`
	ThoughtsSummary string `json:"thoughtsSummary,omitempty" yaml:"thoughtsSummary,omitempty"`
}

// AnswerEvent carries the final answer, whichever envelope it arrived in.
type AnswerEvent struct {
	Text       string      `json:"text" yaml:"text"`
	References []Reference `json:"references" yaml:"references"`
	Evaluation *Evaluation `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	Thoughts   string      `json:"thoughts,omitempty" yaml:"thoughts,omitempty"`
}

// ErrorEvent is an error reported by the remote service inside the stream.
type ErrorEvent struct {
	Message string `json:"message" yaml:"message"`
}

// Kind implements NormalizedEvent.
func (ProgressEvent) Kind() EventKind { return EventKindProgress }

// Kind implements NormalizedEvent.
func (AnswerEvent) Kind() EventKind { return EventKindAnswer }

// Kind implements NormalizedEvent.
func (ErrorEvent) Kind() EventKind { return EventKindError }

func (ProgressEvent) isNormalizedEvent() {}
func (AnswerEvent) isNormalizedEvent()   {}
func (ErrorEvent) isNormalizedEvent()    {}
