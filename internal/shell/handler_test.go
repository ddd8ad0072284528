package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"researchshell/internal/controller"
	"researchshell/internal/render"
	"researchshell/internal/store"
	"researchshell/internal/testutils"
	"researchshell/internal/transport"
	"researchshell/pkg/researchtypes"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// lockedBuffer is written by the session goroutine and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// scriptedClient answers every query with the same event stream. With hold
// set the stream stays open until the session context ends.
type scriptedClient struct {
	body    string
	hold    bool
	initErr error
}

func (c *scriptedClient) InitiateQuery(_ context.Context, _ string) (string, error) {
	if c.initErr != nil {
		return "", c.initErr
	}
	return "req-1", nil
}

func (c *scriptedClient) OpenStream(ctx context.Context, requestID string) (*transport.Stream, error) {
	if !c.hold {
		return transport.NewStream(requestID, io.NopCloser(strings.NewReader(c.body))), nil
	}
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		_ = pw.CloseWithError(ctx.Err())
	}()
	return transport.NewStream(requestID, pr), nil
}

type fixture struct {
	handler *Handler
	ctrl    *controller.Controller
	store   *store.Store
	out     *lockedBuffer
	copied  []string
	copyErr error
	confirm bool
	prompts []string
}

func newFixture(t *testing.T, client controller.QueryClient) *fixture {
	t.Helper()
	return newSeededFixture(t, client, nil)
}

// newSeededFixture saves seed before opening the store.
func newSeededFixture(t *testing.T, client controller.QueryClient, seed *store.State) *fixture {
	t.Helper()
	testutils.ResetTestCounters()
	testMode := testutils.TestMode(true)

	p, err := store.NewJSONPersister(testutils.TempDataDir(t))
	require.NoError(t, err)
	if seed != nil {
		require.NoError(t, p.Save(*seed))
	}
	st, err := store.Open(p, store.WithTestMode(testMode))
	require.NoError(t, err)

	f := &fixture{store: st, out: &lockedBuffer{}}
	r := render.New(render.Options{Style: render.StyleNoTTY, WordWrap: 200})
	f.ctrl = controller.New(controller.Options{
		Store:    st,
		Client:   client,
		Observer: NewObserver(f.out, r),
		TestMode: testMode,
	})
	t.Cleanup(func() { _ = f.ctrl.Close() })

	f.handler = NewHandler(Options{
		Controller: f.ctrl,
		Renderer:   r,
		Output:     f.out,
		ExportDir:  t.TempDir(),
		Confirm: func(prompt string) bool {
			f.prompts = append(f.prompts, prompt)
			return f.confirm
		},
		Copy: func(text string) error {
			if f.copyErr != nil {
				return f.copyErr
			}
			f.copied = append(f.copied, text)
			return nil
		},
	})
	return f
}

func answerStream() string {
	return testutils.SSE(
		testutils.ProgressFrame(1, "Searching the web", "need sources"),
		testutils.FinalFrame(testutils.FrameFields{
			Answer:     "Forty two",
			References: []map[string]any{{"url": "https://example.com/answer", "exactQuote": "the answer"}},
			Evaluation: map[string]any{"definitive": true, "reason": "consistent"},
		}),
	)
}

func TestHandler_AskPrintsProgressAndAnswer(t *testing.T) {
	f := newFixture(t, &scriptedClient{body: answerStream()})

	require.NoError(t, f.handler.Ask(context.Background(), "What is the answer?"))

	out := f.out.String()
	assert.Contains(t, out, "[submitted] Researching...")
	assert.Contains(t, out, "Step 1: Searching the web")
	assert.Contains(t, out, "Forty two")
	assert.Contains(t, out, "1. https://example.com/answer")
	assert.Less(t, strings.Index(out, "Step 1:"), strings.Index(out, "Forty two"))

	conv, err := f.store.Selected()
	require.NoError(t, err)
	assert.True(t, conv.Completed)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "What is the answer?", conv.Messages[0].Text)
}

func TestHandler_AskRejected(t *testing.T) {
	f := newFixture(t, &scriptedClient{body: answerStream()})

	err := f.handler.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, researchtypes.ErrEmptyQuery)
	assert.NotContains(t, err.Error(), "use 'new'")

	require.NoError(t, f.handler.Ask(context.Background(), "first"))

	err = f.handler.Ask(context.Background(), "second")
	assert.ErrorIs(t, err, researchtypes.ErrInvalidState)
	assert.Contains(t, err.Error(), "use 'new'")
}

func TestHandler_AskSubmissionFailure(t *testing.T) {
	f := newFixture(t, &scriptedClient{initErr: researchtypes.ErrTransport})

	require.NoError(t, f.handler.Ask(context.Background(), "anything"))
	assert.Contains(t, f.out.String(), researchtypes.SubmissionFailedMessage)
}

func TestHandler_AskCancelledByContext(t *testing.T) {
	f := newFixture(t, &scriptedClient{hold: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.handler.Ask(ctx, "slow question") }()

	assert.Eventually(t, func() bool {
		snapshot, ok := f.ctrl.ActiveSnapshot()
		return ok && snapshot.Status == researchtypes.SessionStreaming
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not return after cancellation")
	}

	require.NoError(t, f.ctrl.Wait(context.Background()))
	snapshot, _ := f.ctrl.ActiveSnapshot()
	assert.Equal(t, researchtypes.SessionCancelled, snapshot.Status)
	assert.Contains(t, f.out.String(), "[cancelled]")
}

func TestHandler_NewListSelect(t *testing.T) {
	f := newFixture(t, &scriptedClient{body: answerStream()})

	require.NoError(t, f.handler.New())
	convs := f.store.List()
	require.Len(t, convs, 2)
	assert.Equal(t, convs[0].ID, f.store.SelectedID())

	f.out.Reset()
	require.NoError(t, f.handler.List())
	lines := strings.Split(strings.TrimSpace(f.out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "*  1. "))
	assert.True(t, strings.HasPrefix(lines[1], "   2. "))

	require.NoError(t, f.handler.Select("2"))
	assert.Equal(t, convs[1].ID, f.store.SelectedID())

	require.NoError(t, f.handler.Select(convs[0].ID[:8]))
	assert.Equal(t, convs[0].ID, f.store.SelectedID())

	require.NoError(t, f.handler.Select(convs[1].ID))
	assert.Equal(t, convs[1].ID, f.store.SelectedID())
}

func TestHandler_ResolveErrors(t *testing.T) {
	f := newFixture(t, &scriptedClient{})
	require.NoError(t, f.handler.New())

	tests := []struct {
		name string
		ref  string
		want string
		is   error
	}{
		{name: "index out of range", ref: "9", want: "no conversation at index 9"},
		{name: "zero index", ref: "0", want: "no conversation at index 0"},
		{name: "unknown id", ref: "zzz", is: researchtypes.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.handler.Select(tt.ref)
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestHandler_ResolvePrefix(t *testing.T) {
	f := newSeededFixture(t, &scriptedClient{}, &store.State{
		Conversations: []researchtypes.Conversation{
			{ID: "abc-one", Title: "One", Messages: []researchtypes.Message{}},
			{ID: "abc-two", Title: "Two", Messages: []researchtypes.Message{}},
			{ID: "xyz-three", Title: "Three", Messages: []researchtypes.Message{}},
		},
		SelectedID: "abc-one",
	})

	assert.ErrorContains(t, f.handler.Select("abc"), "ambiguous")
	assert.Equal(t, "abc-one", f.store.SelectedID())

	require.NoError(t, f.handler.Select("abc-t"))
	assert.Equal(t, "abc-two", f.store.SelectedID())

	require.NoError(t, f.handler.Select("xyz"))
	assert.Equal(t, "xyz-three", f.store.SelectedID())
}

func TestHandler_Show(t *testing.T) {
	f := newFixture(t, &scriptedClient{body: answerStream()})
	require.NoError(t, f.handler.Ask(context.Background(), "What is the answer?"))

	f.out.Reset()
	require.NoError(t, f.handler.Show(""))
	out := f.out.String()
	assert.Contains(t, out, "What is the answer?...")
	assert.Contains(t, out, "(completed)")
	assert.Contains(t, out, "? What is the answer?")
	assert.Contains(t, out, "Forty two")
}

func TestHandler_Delete(t *testing.T) {
	f := newFixture(t, &scriptedClient{})
	require.NoError(t, f.handler.New())
	target := f.store.List()[1]

	assert.ErrorContains(t, f.handler.Delete(" ", false), "usage")

	f.confirm = false
	require.NoError(t, f.handler.Delete("2", false))
	assert.Equal(t, 2, f.store.Len())
	assert.Contains(t, f.out.String(), "Cancelled.")
	require.Len(t, f.prompts, 1)
	assert.Contains(t, f.prompts[0], "[y/N]")

	f.confirm = true
	require.NoError(t, f.handler.Delete("2", false))
	assert.Equal(t, 1, f.store.Len())
	_, err := f.store.Get(target.ID)
	assert.ErrorIs(t, err, researchtypes.ErrNotFound)

	require.NoError(t, f.handler.Delete("1", true))
	assert.Len(t, f.prompts, 2, "confirmed deletes do not prompt")
	assert.Equal(t, 1, f.store.Len(), "deleting the last conversation creates a new one")
}

func TestHandler_StepsAndStatus(t *testing.T) {
	f := newFixture(t, &scriptedClient{body: answerStream()})

	require.NoError(t, f.handler.Steps())
	require.NoError(t, f.handler.Status())
	assert.Contains(t, f.out.String(), "No research has run")
	assert.Contains(t, f.out.String(), "[idle]")

	require.NoError(t, f.handler.Ask(context.Background(), "question"))

	f.out.Reset()
	require.NoError(t, f.handler.Steps())
	require.NoError(t, f.handler.Status())
	out := f.out.String()
	assert.Contains(t, out, "Step 1: Searching the web")
	assert.Contains(t, out, "need sources")
	assert.Contains(t, out, "[completed] "+f.store.SelectedID()+", 1 step(s)")
}

func TestHandler_Export(t *testing.T) {
	f := newFixture(t, &scriptedClient{body: answerStream()})
	require.NoError(t, f.handler.Ask(context.Background(), "question"))

	f.out.Reset()
	require.NoError(t, f.handler.Export("yaml"))
	out := strings.TrimSpace(f.out.String())
	require.True(t, strings.HasPrefix(out, "Debug trace written to "))

	path := strings.TrimPrefix(out, "Debug trace written to ")
	assert.Equal(t, ".yaml", filepath.Ext(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "status: completed")

	f.out.Reset()
	require.NoError(t, f.handler.Export(""))
	assert.Contains(t, f.out.String(), ".json")

	assert.Error(t, f.handler.Export("xml"))
}

func TestHandler_Copy(t *testing.T) {
	f := newFixture(t, &scriptedClient{body: answerStream()})

	assert.ErrorIs(t, f.handler.Copy(), ErrNoAnswer)

	require.NoError(t, f.handler.Ask(context.Background(), "question"))
	require.NoError(t, f.handler.Copy())
	assert.Equal(t, []string{"Forty two"}, f.copied)
	assert.Contains(t, f.out.String(), "Copied 9 characters")

	f.copyErr = errors.New("no display")
	f.out.Reset()
	require.NoError(t, f.handler.Copy())
	assert.Contains(t, f.out.String(), "Clipboard unavailable (no display)")
	assert.Contains(t, f.out.String(), "Forty two")
}

func TestHandler_Report(t *testing.T) {
	f := newFixture(t, &scriptedClient{})
	f.handler.Report(nil)
	assert.Empty(t, f.out.String())

	f.handler.Report(errors.New("boom"))
	assert.Equal(t, "Error: boom\n", f.out.String())
}

func TestObserver_QuietTransitions(t *testing.T) {
	var buf bytes.Buffer
	o := NewObserver(&buf, render.New(render.Options{Style: render.StyleNoTTY}))

	o.OnStatus("c", researchtypes.SessionStreaming)
	o.OnStatus("c", researchtypes.SessionCompleted)
	assert.Empty(t, buf.String())

	o.OnStatus("c", researchtypes.SessionCancelled)
	assert.Equal(t, "[cancelled]\n", buf.String())
}

func TestIsYes(t *testing.T) {
	for _, in := range []string{"y", "Y", "yes", " YES "} {
		assert.True(t, isYes(in), in)
	}
	for _, in := range []string{"", "n", "no", "yep", "1"} {
		assert.False(t, isYes(in), in)
	}
}
