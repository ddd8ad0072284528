package session

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchshell/internal/testutils"
	"researchshell/pkg/researchtypes"
)

const convID = "conv-1"

func newStreamingMachine(t *testing.T, sink *testutils.MemorySink, opts ...Option) (*Machine, *testutils.CountingCloser) {
	t.Helper()
	opts = append([]Option{WithTestMode(testutils.TestMode(true))}, opts...)
	m := New(convID, sink, opts...)
	require.NoError(t, m.MarkSubmitted())
	handle := &testutils.CountingCloser{}
	require.NoError(t, m.Attach(handle))
	require.Equal(t, researchtypes.SessionStreaming, m.Status())
	return m, handle
}

func TestMachine_LifecycleToCompleted(t *testing.T) {
	sink := testutils.NewMemorySink()
	observer := &testutils.RecordingObserver{}
	trace := &testutils.RecordingTrace{}
	m, handle := newStreamingMachine(t, sink, WithObserver(observer), WithRecorder(trace))

	assert.True(t, m.Handle(researchtypes.ProgressEvent{Step: "Step 1:", ActionSummary: "searching"}))
	assert.True(t, m.Handle(researchtypes.ProgressEvent{Step: "Step 2:", ActionSummary: "reading"}))
	require.Len(t, m.Steps(), 2)
	assert.Equal(t, "searching", m.Steps()[0].ActionSummary)
	assert.Equal(t, "reading", m.Steps()[1].ActionSummary)
	assert.False(t, sink.Completed(convID))

	applied := m.Handle(researchtypes.AnswerEvent{
		Text:       "X is Y",
		References: []researchtypes.Reference{{URL: "http://a", ExactQuote: "Y"}},
		Evaluation: &researchtypes.Evaluation{Reason: "sourced", Definitive: true},
		Thoughts:   "done",
	})
	require.True(t, applied)

	assert.Equal(t, researchtypes.SessionCompleted, m.Status())
	assert.Empty(t, m.Steps())
	assert.Equal(t, 1, handle.Calls())
	assert.True(t, sink.Completed(convID))

	msgs := sink.Messages(convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, researchtypes.MessageKindBot, msgs[0].Kind)
	assert.Equal(t, "X is Y", msgs[0].Text)
	assert.Equal(t, []researchtypes.Reference{{URL: "http://a", ExactQuote: "Y"}}, msgs[0].References)
	require.NotNil(t, msgs[0].Evaluation)
	assert.True(t, msgs[0].Evaluation.Definitive)
	assert.Equal(t, "done", msgs[0].Thoughts)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done channel not closed after completion")
	}

	assert.Equal(t, []researchtypes.SessionStatus{
		researchtypes.SessionSubmitted,
		researchtypes.SessionStreaming,
		researchtypes.SessionCompleted,
	}, observer.StatusHistory())
	assert.Len(t, observer.Steps, 2)
	assert.Len(t, observer.Messages, 1)
	assert.Contains(t, trace.Kinds(), researchtypes.TraceTransition)
}

func TestMachine_RemoteErrorEvent(t *testing.T) {
	sink := testutils.NewMemorySink()
	m, handle := newStreamingMachine(t, sink)

	require.True(t, m.Handle(researchtypes.ErrorEvent{Message: "budget exhausted"}))

	assert.Equal(t, researchtypes.SessionErrored, m.Status())
	assert.Equal(t, 1, handle.Calls())
	msgs := sink.Messages(convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Error: budget exhausted", msgs[0].Text)
}

func TestMachine_ErrorEventDefaultsMessage(t *testing.T) {
	sink := testutils.NewMemorySink()
	m, _ := newStreamingMachine(t, sink)

	require.True(t, m.Handle(researchtypes.ErrorEvent{}))
	assert.Equal(t, "Error: "+researchtypes.DefaultRemoteErrorMessage, sink.Messages(convID)[0].Text)
}

func TestMachine_ErrorWhileSubmitted(t *testing.T) {
	sink := testutils.NewMemorySink()
	m := New(convID, sink)
	require.NoError(t, m.MarkSubmitted())

	assert.False(t, m.Handle(researchtypes.ProgressEvent{Step: "Step 1:"}), "progress before streaming is ignored")
	assert.False(t, m.Handle(researchtypes.AnswerEvent{Text: "early"}), "answer before streaming is ignored")
	require.True(t, m.Handle(researchtypes.ErrorEvent{Message: "rejected"}))
	assert.Equal(t, researchtypes.SessionErrored, m.Status())
}

func TestMachine_IdleIgnoresEverything(t *testing.T) {
	sink := testutils.NewMemorySink()
	m := New(convID, sink)

	assert.False(t, m.Handle(researchtypes.ErrorEvent{Message: "x"}))
	assert.False(t, m.Handle(researchtypes.AnswerEvent{Text: "x"}))
	assert.Equal(t, researchtypes.SessionIdle, m.Status())
	assert.Empty(t, sink.Messages(convID))
}

func TestMachine_TransportFailure(t *testing.T) {
	sink := testutils.NewMemorySink()
	trace := &testutils.RecordingTrace{}
	m, handle := newStreamingMachine(t, sink, WithRecorder(trace))

	require.True(t, m.FailTransport(errors.New("connection reset")))

	assert.Equal(t, researchtypes.SessionErrored, m.Status())
	assert.Equal(t, 1, handle.Calls())
	msgs := sink.Messages(convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Error: "+researchtypes.ConnectionLostMessage, msgs[0].Text)
	assert.Contains(t, trace.Kinds(), researchtypes.TraceTransportError)
}

func TestMachine_SubmissionFailure(t *testing.T) {
	sink := testutils.NewMemorySink()
	m := New(convID, sink)
	require.NoError(t, m.MarkSubmitted())

	require.True(t, m.FailSubmission(errors.New("dial tcp: refused")))

	assert.Equal(t, researchtypes.SessionErrored, m.Status())
	msgs := sink.Messages(convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, researchtypes.SubmissionFailedMessage, msgs[0].Text)

	// A stream attached afterwards is closed immediately.
	late := &testutils.CountingCloser{}
	err := m.Attach(late)
	assert.ErrorIs(t, err, researchtypes.ErrSessionClosed)
	assert.ErrorIs(t, err, researchtypes.ErrInvalidState)
	assert.Equal(t, 1, late.Calls())
}

func TestMachine_TerminalStateIsFinal(t *testing.T) {
	sink := testutils.NewMemorySink()
	m, handle := newStreamingMachine(t, sink)

	require.True(t, m.Handle(researchtypes.AnswerEvent{Text: "first"}))

	assert.False(t, m.Handle(researchtypes.AnswerEvent{Text: "duplicate"}))
	assert.False(t, m.Handle(researchtypes.ErrorEvent{Message: "late"}))
	assert.False(t, m.Handle(researchtypes.ProgressEvent{Step: "Step 9:"}))
	assert.False(t, m.FailTransport(errors.New("eof")))
	assert.False(t, m.FailSubmission(nil))
	assert.False(t, m.Cancel())

	assert.Equal(t, researchtypes.SessionCompleted, m.Status())
	assert.Len(t, sink.Messages(convID), 1)
	assert.Empty(t, m.Steps())
	assert.Equal(t, 1, handle.Calls())
}

func TestMachine_Cancel(t *testing.T) {
	sink := testutils.NewMemorySink()
	m, handle := newStreamingMachine(t, sink)
	m.Handle(researchtypes.ProgressEvent{Step: "Step 1:"})

	require.True(t, m.Cancel())

	assert.Equal(t, researchtypes.SessionCancelled, m.Status())
	assert.Equal(t, 1, handle.Calls())
	assert.Empty(t, m.Steps())
	assert.Empty(t, sink.Messages(convID))
	assert.False(t, sink.Completed(convID))
	assert.False(t, m.Handle(researchtypes.AnswerEvent{Text: "after cancel"}))
	assert.Empty(t, sink.Messages(convID))
}

func TestMachine_SinkFailureStillTerminates(t *testing.T) {
	sink := testutils.NewMemorySink()
	sink.SetAppendError(researchtypes.ErrNotFound)
	observer := &testutils.RecordingObserver{}
	m, handle := newStreamingMachine(t, sink, WithObserver(observer))

	require.True(t, m.Handle(researchtypes.AnswerEvent{Text: "orphan"}))

	assert.Equal(t, researchtypes.SessionCompleted, m.Status())
	assert.Equal(t, 1, handle.Calls())
	assert.Empty(t, observer.Messages)
}

func TestMachine_MarkSubmittedTwice(t *testing.T) {
	m := New(convID, testutils.NewMemorySink())
	require.NoError(t, m.MarkSubmitted())
	assert.ErrorIs(t, m.MarkSubmitted(), researchtypes.ErrSessionClosed)
}

func TestMachine_SnapshotIsCopy(t *testing.T) {
	m, _ := newStreamingMachine(t, testutils.NewMemorySink())
	m.Handle(researchtypes.ProgressEvent{Step: "Step 1:", ActionSummary: "a"})

	snap := m.Snapshot()
	snap.Steps[0].ActionSummary = "mutated"

	assert.Equal(t, convID, snap.ConversationID)
	assert.Equal(t, researchtypes.SessionStreaming, snap.Status)
	assert.Equal(t, "a", m.Steps()[0].ActionSummary)
}

func TestMachineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("completed only after exactly one terminal message, regardless of progress", prop.ForAll(
		func(progressCount int, terminalIsError bool) bool {
			sink := testutils.NewMemorySink()
			m := New(convID, sink, WithTestMode(testutils.TestMode(true)))
			if m.MarkSubmitted() != nil || m.Attach(&testutils.CountingCloser{}) != nil {
				return false
			}

			for i := 0; i < progressCount; i++ {
				m.Handle(researchtypes.ProgressEvent{Step: "Step:", ActionSummary: "x"})
				if sink.Completed(convID) {
					return false
				}
			}
			if len(m.Steps()) != progressCount {
				return false
			}

			if terminalIsError {
				m.Handle(researchtypes.ErrorEvent{Message: "boom"})
			} else {
				m.Handle(researchtypes.AnswerEvent{Text: "answer"})
			}
			return sink.Completed(convID) && len(sink.Messages(convID)) == 1 && m.Status().IsTerminal()
		},
		gen.IntRange(0, 50),
		gen.Bool(),
	))

	properties.Property("post-terminal events never change the log", prop.ForAll(
		func(lateKinds []int) bool {
			sink := testutils.NewMemorySink()
			m := New(convID, sink)
			_ = m.MarkSubmitted()
			_ = m.Attach(&testutils.CountingCloser{})
			m.Handle(researchtypes.AnswerEvent{Text: "final"})
			before := len(sink.Messages(convID))

			for _, k := range lateKinds {
				switch k {
				case 0:
					m.Handle(researchtypes.ProgressEvent{Step: "late"})
				case 1:
					m.Handle(researchtypes.AnswerEvent{Text: "late"})
				default:
					m.Handle(researchtypes.ErrorEvent{Message: "late"})
				}
			}
			return len(sink.Messages(convID)) == before && m.Status() == researchtypes.SessionCompleted
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
