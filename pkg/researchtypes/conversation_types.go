// Package researchtypes defines the shared domain types for researchshell.
// This file contains the persisted conversation model: conversations, their
// ordered message logs, and the references attached to research answers.
package researchtypes

import "time"

// DefaultConversationTitle is the title given to a conversation before its first question.
const DefaultConversationTitle = "New Question"

// Placeholders used when a reference arrives without one of its fields.
const (
	ReferencePlaceholderURL   = "#"
	ReferencePlaceholderQuote = "No quote available"
)

// MessageKind distinguishes the two message variants stored in a conversation.
type MessageKind string

// Message kinds.
const (
	MessageKindUser MessageKind = "user"
	MessageKindBot  MessageKind = "bot"
)

// Reference is a single source cited by a research answer.
type Reference struct {
	URL        string `json:"url" yaml:"url"`
	ExactQuote string `json:"exactQuote" yaml:"exactQuote"`
}

// Evaluation is the remote service's self-assessment of an answer.
type Evaluation struct {
	Reason     string `json:"reason" yaml:"reason"`
	Definitive bool   `json:"definitive" yaml:"definitive"`
}

// Message is one entry of a conversation log.
// User messages only carry ID, Text and Timestamp; bot messages may also carry
// references, an evaluation and the service's thoughts.
type Message struct {
	ID         string      `json:"id" yaml:"id"`
	Kind       MessageKind `json:"type" yaml:"type"`
	Text       string      `json:"text" yaml:"text"`
	References []Reference `json:"references,omitempty" yaml:"references,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	Thoughts   string      `json:"thoughts,omitempty" yaml:"thoughts,omitempty"`
	Timestamp  time.Time   `json:"timestamp" yaml:"timestamp"`
}

// IsBot reports whether the message was produced by the research service.
func (m Message) IsBot() bool {
	return m.Kind == MessageKindBot
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.References != nil {
		out.References = append([]Reference(nil), m.References...)
	}
	if m.Evaluation != nil {
		eval := *m.Evaluation
		out.Evaluation = &eval
	}
	return out
}

// Conversation is an ordered message log started by a "new question" action.
// Once Completed is true the log is closed: no further user message is accepted.
type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	Completed bool      `json:"completed" yaml:"completed"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy of the conversation so callers never share
// message storage with the store's snapshot.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		out.Messages[i] = msg.Clone()
	}
	return out
}

// LastBotMessage returns the most recent bot message, if any.
func (c Conversation) LastBotMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsBot() {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}
