// Package controller accepts questions from the user interface and drives
// each one through its session: it appends the question, initiates the query,
// pumps the event stream through the normalizer into the session machine and
// keeps the debug trace of the current session.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"researchshell/internal/logger"
	"researchshell/internal/normalizer"
	"researchshell/internal/session"
	"researchshell/internal/store"
	"researchshell/internal/trace"
	"researchshell/internal/transport"
	"researchshell/pkg/researchtypes"
)

// QueryClient is the part of the research service client the controller uses.
type QueryClient interface {
	InitiateQuery(ctx context.Context, q string) (string, error)
	OpenStream(ctx context.Context, requestID string) (*transport.Stream, error)
}

// Options wires a Controller.
type Options struct {
	Store    *store.Store
	Client   QueryClient
	Recorder *trace.Recorder
	Observer researchtypes.SessionObserver
	TestMode researchtypes.TestModeProvider
}

// activeSession binds the one session in flight to its cancellation.
type activeSession struct {
	machine  *session.Machine
	cancel   context.CancelFunc
	finished chan struct{} // Closed when the session goroutine returns
}

// Controller serializes submissions. At most one session is active at a time;
// starting a new one cancels the previous one.
type Controller struct {
	mu     sync.Mutex
	active *activeSession
	closed bool

	store    *store.Store
	client   QueryClient
	recorder *trace.Recorder
	observer researchtypes.SessionObserver
	testMode researchtypes.TestModeProvider
	logger   *log.Logger
}

// New creates a controller. Store and Client are required.
func New(opts Options) *Controller {
	if opts.Recorder == nil {
		opts.Recorder = trace.NewRecorder(opts.TestMode)
	}
	if opts.Observer == nil {
		opts.Observer = researchtypes.NopObserver{}
	}
	return &Controller{
		store:    opts.Store,
		client:   opts.Client,
		recorder: opts.Recorder,
		observer: opts.Observer,
		testMode: opts.TestMode,
		logger:   logger.NewStyledLogger("Controller"),
	}
}

// Store returns the conversation store the controller mutates.
func (c *Controller) Store() *store.Store {
	return c.store
}

// Recorder returns the debug trace of the current session.
func (c *Controller) Recorder() *trace.Recorder {
	return c.recorder
}

// Submit asks a question in a conversation. Preconditions are checked in
// order and a failed check changes nothing: the text must not be blank, the
// conversation must exist and be open, and no session may already be in
// flight for it. Failures of the remote service are not returned; they end
// the session with a bot message instead.
func (c *Controller) Submit(ctx context.Context, conversationID, text string) error {
	const op = "submit"

	query := strings.TrimSpace(text)
	if query == "" {
		return researchtypes.NewStateError(op, conversationID, "question is empty", researchtypes.ErrEmptyQuery)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return researchtypes.NewStateError(op, conversationID, "controller is closed", researchtypes.ErrSessionClosed)
	}

	conv, err := c.store.Get(conversationID)
	if err != nil {
		return err
	}
	if conv.Completed {
		return researchtypes.NewStateError(op, conversationID, "conversation is completed; start a new question", nil)
	}
	if c.active != nil && c.active.machine.ConversationID() == conversationID && !c.active.machine.Status().IsTerminal() {
		return researchtypes.NewStateError(op, conversationID, "a query is already in progress", researchtypes.ErrSessionActive)
	}

	if _, err := c.store.AppendUserMessage(conversationID, query); err != nil {
		if !errors.Is(err, researchtypes.ErrPersistence) {
			return err
		}
		c.logger.Warn("Question kept in memory only", "conversation", conversationID, "error", err)
	}

	c.cancelActiveLocked()
	c.recorder.Reset()

	machine := session.New(conversationID, c.store,
		session.WithObserver(c.observer),
		session.WithRecorder(c.recorder),
		session.WithTestMode(c.testMode),
	)
	if err := machine.MarkSubmitted(); err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	active := &activeSession{
		machine:  machine,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	c.active = active

	c.logger.Info("Question submitted", "conversation", conversationID)
	go c.run(sessionCtx, active, query)
	return nil
}

// run initiates the query and pumps its stream. It owns no controller state
// and never takes the controller mutex.
func (c *Controller) run(ctx context.Context, active *activeSession, query string) {
	defer close(active.finished)
	defer active.cancel()

	m := active.machine

	requestID, err := c.client.InitiateQuery(ctx, query)
	if err != nil {
		c.abort(ctx, m, err)
		return
	}

	stream, err := c.client.OpenStream(ctx, requestID)
	if err != nil {
		c.abort(ctx, m, err)
		return
	}

	if err := m.Attach(stream); err != nil {
		// The session ended while the stream was opening; Attach closed it.
		return
	}

	c.pump(ctx, m, stream)
}

// abort ends a session whose query could not be started.
func (c *Controller) abort(ctx context.Context, m *session.Machine, err error) {
	if ctx.Err() != nil {
		m.Cancel()
		return
	}
	c.logger.Warn("Query could not be started", "conversation", m.ConversationID(), "error", err)
	m.FailSubmission(err)
}

// pump feeds frames to the machine in arrival order until the session ends.
func (c *Controller) pump(ctx context.Context, m *session.Machine, stream *transport.Stream) {
	for frame := range stream.Frames() {
		if !frame.IsMessage() {
			c.recorder.Record(researchtypes.TraceFrame, frame.Data, map[string]any{
				"event":   frame.Event,
				"skipped": true,
			})
			continue
		}

		c.recorder.Record(researchtypes.TraceFrame, frame.Data, nil)

		event, err := normalizer.Normalize(frame.Data)
		if err != nil {
			c.recorder.Record(researchtypes.TraceProtocolError, frame.Data, err)
			c.logger.Debug("Skipping frame", "conversation", m.ConversationID(), "error", err)
			continue
		}

		c.recorder.Record(researchtypes.TraceEvent, "", event)
		m.Handle(event)
		if m.Status().IsTerminal() {
			return
		}
	}

	if m.Status().IsTerminal() {
		return
	}
	if ctx.Err() != nil {
		m.Cancel()
		return
	}
	m.FailTransport(stream.Err())
}

// NewQuestion cancels the active session and starts a fresh conversation.
func (c *Controller) NewQuestion() (researchtypes.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelActiveLocked()
	return c.store.Create()
}

// Delete removes a conversation, cancelling its session if one is active.
func (c *Controller) Delete(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.machine.ConversationID() == conversationID {
		c.cancelActiveLocked()
	}
	return c.store.Delete(conversationID)
}

// Select changes the selected conversation. An active session keeps running.
func (c *Controller) Select(conversationID string) error {
	return c.store.Select(conversationID)
}

// ActiveSnapshot returns the state of the most recent session, if any.
func (c *Controller) ActiveSnapshot() (researchtypes.SessionSnapshot, bool) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil {
		return researchtypes.SessionSnapshot{}, false
	}
	return active.machine.Snapshot(), true
}

// Wait blocks until the most recent session reaches a terminal state.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil {
		return nil
	}

	select {
	case <-active.machine.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-active.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExportDebug writes the trace of the current session to dir and returns the
// file path.
func (c *Controller) ExportDebug(dir string, format trace.Format) (string, error) {
	snapshot, ok := c.ActiveSnapshot()
	if !ok {
		snapshot = researchtypes.SessionSnapshot{
			ConversationID: c.store.SelectedID(),
			Status:         researchtypes.SessionIdle,
		}
	}

	path, err := c.recorder.WriteExport(dir, snapshot, format)
	if err != nil {
		return "", err
	}
	c.logger.Info("Debug trace exported", "path", path, "entries", c.recorder.Len())
	return path, nil
}

// Close cancels the active session and rejects further submissions. It is
// safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.cancelActiveLocked()
	return nil
}

// cancelActiveLocked cancels the active session and waits for its goroutine.
// The goroutine never takes c.mu, so waiting here cannot deadlock.
func (c *Controller) cancelActiveLocked() {
	active := c.active
	if active == nil {
		return
	}
	if active.machine.Cancel() {
		c.logger.Info("Session cancelled", "conversation", active.machine.ConversationID())
	}
	active.cancel()
	<-active.finished
}
