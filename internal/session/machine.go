// Package session implements the per-query state machine that consumes
// normalized stream events and writes the terminal bot message into the owning
// conversation.
//
// A Machine moves Idle -> Submitted -> Streaming -> {Completed, Errored}, or to
// Cancelled when the controller abandons it. Terminal states are entered
// exactly once; anything arriving afterwards is ignored.
package session

import (
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"researchshell/internal/logger"
	"researchshell/internal/testutils"
	"researchshell/pkg/researchtypes"
)

// Option configures a Machine.
type Option func(*Machine)

// WithObserver registers an observer for status, progress and message notifications.
func WithObserver(o researchtypes.SessionObserver) Option {
	return func(m *Machine) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithRecorder records every transition into a debug trace.
func WithRecorder(r researchtypes.TraceRecorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithTestMode makes generated message IDs and timestamps deterministic.
func WithTestMode(p researchtypes.TestModeProvider) Option {
	return func(m *Machine) {
		m.testMode = p
	}
}

// Machine is the state machine of one submitted query.
type Machine struct {
	mu             sync.Mutex
	conversationID string
	status         researchtypes.SessionStatus
	steps          []researchtypes.ProgressStep
	handle         io.Closer
	done           chan struct{}

	sink     researchtypes.ConversationSink
	observer researchtypes.SessionObserver
	recorder researchtypes.TraceRecorder
	testMode researchtypes.TestModeProvider
	logger   *log.Logger
}

// transition is the payload recorded in the trace for each state change.
type transition struct {
	ConversationID string                      `json:"conversationId"`
	From           researchtypes.SessionStatus `json:"from"`
	To             researchtypes.SessionStatus `json:"to"`
	Reason         string                      `json:"reason,omitempty"`
}

// New creates an idle machine bound to a conversation. The sink receives the
// terminal bot message.
func New(conversationID string, sink researchtypes.ConversationSink, opts ...Option) *Machine {
	m := &Machine{
		conversationID: conversationID,
		status:         researchtypes.SessionIdle,
		steps:          make([]researchtypes.ProgressStep, 0),
		done:           make(chan struct{}),
		sink:           sink,
		observer:       researchtypes.NopObserver{},
		recorder:       researchtypes.NopRecorder{},
		logger:         logger.NewStyledLogger("Session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConversationID returns the conversation this session belongs to.
func (m *Machine) ConversationID() string {
	return m.conversationID
}

// Status returns the current status.
func (m *Machine) Status() researchtypes.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Steps returns a copy of the transient progress steps.
func (m *Machine) Steps() []researchtypes.ProgressStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]researchtypes.ProgressStep(nil), m.steps...)
}

// Snapshot returns the session's transient state.
func (m *Machine) Snapshot() researchtypes.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return researchtypes.SessionSnapshot{
		ConversationID: m.conversationID,
		Status:         m.status,
		Steps:          append([]researchtypes.ProgressStep{}, m.steps...),
	}
}

// Done is closed once the machine reaches a terminal state.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// MarkSubmitted moves Idle -> Submitted when the initiating request is issued.
func (m *Machine) MarkSubmitted() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != researchtypes.SessionIdle {
		return researchtypes.NewStateError("submit", m.conversationID,
			"session is "+string(m.status), researchtypes.ErrSessionClosed)
	}
	m.setStatusLocked(researchtypes.SessionSubmitted, "")
	return nil
}

// Attach binds the stream handle and moves Submitted -> Streaming. If the
// session was already closed the handle is closed immediately.
func (m *Machine) Attach(handle io.Closer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != researchtypes.SessionSubmitted {
		if handle != nil {
			_ = handle.Close()
		}
		return researchtypes.NewStateError("attach", m.conversationID,
			"session is "+string(m.status), researchtypes.ErrSessionClosed)
	}
	m.handle = handle
	m.setStatusLocked(researchtypes.SessionStreaming, "")
	return nil
}

// Handle applies a normalized event. It reports whether the event changed the
// session; events that are not valid in the current state are ignored.
func (m *Machine) Handle(event researchtypes.NormalizedEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.IsTerminal() {
		m.logger.Debug("Ignoring event after terminal state",
			"conversation", m.conversationID, "status", m.status, "event", event.Kind())
		return false
	}

	switch ev := event.(type) {
	case researchtypes.ProgressEvent:
		if m.status != researchtypes.SessionStreaming {
			return false
		}
		step := researchtypes.ProgressStep{
			StepLabel:       ev.Step,
			ActionSummary:   ev.ActionSummary,
			ThoughtsSummary: ev.ThoughtsSummary,
			Timestamp:       testutils.GetCurrentTime(m.testMode),
		}
		m.steps = append(m.steps, step)
		m.observer.OnProgress(m.conversationID, step)
		return true

	case researchtypes.AnswerEvent:
		if m.status != researchtypes.SessionStreaming {
			return false
		}
		msg := m.botMessage(ev.Text)
		msg.References = append([]researchtypes.Reference{}, ev.References...)
		if ev.Evaluation != nil {
			eval := *ev.Evaluation
			msg.Evaluation = &eval
		}
		msg.Thoughts = ev.Thoughts
		m.finishLocked(researchtypes.SessionCompleted, msg, "answer received")
		return true

	case researchtypes.ErrorEvent:
		if m.status != researchtypes.SessionSubmitted && m.status != researchtypes.SessionStreaming {
			return false
		}
		m.finishLocked(researchtypes.SessionErrored, m.botMessage(errorText(ev.Message)), "remote error")
		return true

	default:
		return false
	}
}

// FailTransport terminates the session after the stream failed outright. It is
// handled exactly like a remote error event with a fixed message.
func (m *Machine) FailTransport(err error) bool {
	if err != nil {
		m.recorder.Record(researchtypes.TraceTransportError, err.Error(), nil)
	}
	return m.Handle(researchtypes.ErrorEvent{Message: researchtypes.ConnectionLostMessage})
}

// FailSubmission terminates the session when the initiating request failed
// before any stream was opened.
func (m *Machine) FailSubmission(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.IsTerminal() {
		return false
	}
	reason := "submission failed"
	if err != nil {
		reason = err.Error()
		m.recorder.Record(researchtypes.TraceTransportError, reason, nil)
	}
	m.finishLocked(researchtypes.SessionErrored, m.botMessage(researchtypes.SubmissionFailedMessage), reason)
	return true
}

// Cancel closes the connection and ends the session without writing anything
// to the conversation. It reports whether the session was still open.
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.IsTerminal() {
		return false
	}
	m.steps = m.steps[:0]
	m.closeHandleLocked()
	m.setStatusLocked(researchtypes.SessionCancelled, "cancelled")
	close(m.done)
	return true
}

func (m *Machine) botMessage(text string) researchtypes.Message {
	return researchtypes.Message{
		ID:        testutils.GenerateUUID(m.testMode),
		Kind:      researchtypes.MessageKindBot,
		Text:      text,
		Timestamp: testutils.GetCurrentTime(m.testMode),
	}
}

// finishLocked appends the terminal message, clears transient state, closes
// the connection and enters the terminal status. Callers hold m.mu.
func (m *Machine) finishLocked(status researchtypes.SessionStatus, msg researchtypes.Message, reason string) {
	if err := m.sink.AppendBotMessage(m.conversationID, msg); err != nil {
		// The conversation may have been deleted mid-stream; the session still ends.
		m.logger.Warn("Failed to append terminal message",
			"conversation", m.conversationID, "error", err)
	} else {
		m.observer.OnMessage(m.conversationID, msg)
	}

	m.steps = m.steps[:0]
	m.closeHandleLocked()
	m.setStatusLocked(status, reason)
	close(m.done)
}

func (m *Machine) closeHandleLocked() {
	if m.handle == nil {
		return
	}
	if err := m.handle.Close(); err != nil {
		m.logger.Debug("Closing stream handle failed", "conversation", m.conversationID, "error", err)
	}
	m.handle = nil
}

func (m *Machine) setStatusLocked(to researchtypes.SessionStatus, reason string) {
	from := m.status
	m.status = to
	m.recorder.Record(researchtypes.TraceTransition, "", transition{
		ConversationID: m.conversationID,
		From:           from,
		To:             to,
		Reason:         reason,
	})
	m.logger.Debug("Session transition", "conversation", m.conversationID, "status", to, "from", from)
	m.observer.OnStatus(m.conversationID, to)
}

func errorText(message string) string {
	if message == "" {
		message = researchtypes.DefaultRemoteErrorMessage
	}
	return "Error: " + message
}
