package testutils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// FrameFields holds the answer fields shared by the three final-answer envelopes.
type FrameFields struct {
	Answer     string
	References any
	Evaluation any
	Thoughts   any
}

func (f FrameFields) payload() map[string]any {
	payload := map[string]any{"answer": f.Answer}
	if f.References != nil {
		payload["references"] = f.References
	}
	if f.Evaluation != nil {
		payload["evaluation"] = f.Evaluation
	}
	if f.Thoughts != nil {
		payload["thoughts"] = f.Thoughts
	}
	return payload
}

// ProgressFrame builds a progress frame with the action state nested under trackers.
// A nil step omits the field.
func ProgressFrame(step any, action, thoughts string) string {
	frame := map[string]any{
		"type": "progress",
		"trackers": map[string]any{
			"actionState": map[string]any{
				"action":   action,
				"thoughts": thoughts,
			},
		},
	}
	if step != nil {
		frame["step"] = step
	}
	return mustJSON(frame)
}

// ProgressAnswerFrame builds a final answer carried by a progress-typed frame.
func ProgressAnswerFrame(step any, fields FrameFields) string {
	frame := fields.payload()
	frame["type"] = "progress"
	if step != nil {
		frame["step"] = step
	}
	return mustJSON(frame)
}

// AnswerDataFrame builds an "answer" frame with the payload nested under data.
func AnswerDataFrame(fields FrameFields) string {
	return mustJSON(map[string]any{
		"type": "answer",
		"data": fields.payload(),
	})
}

// FinalFrame builds a "final" frame with the payload at top level.
func FinalFrame(fields FrameFields) string {
	frame := fields.payload()
	frame["type"] = "final"
	return mustJSON(frame)
}

// ErrorFrame builds an "error" frame. An empty message omits the field.
func ErrorFrame(message string) string {
	frame := map[string]any{"type": "error"}
	if message != "" {
		frame["message"] = message
	}
	return mustJSON(frame)
}

// SSE encodes frames as a text/event-stream body, one message event per frame.
func SSE(frames ...string) string {
	var b strings.Builder
	for _, frame := range frames {
		for _, line := range strings.Split(frame, "\n") {
			fmt.Fprintf(&b, "data: %s\n", line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// TempDataDir creates a temporary data directory for store tests.
func TempDataDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(dir, 0755))
	return dir
}

// WriteFile writes content to a file under dir and returns its path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutils: marshal frame: %v", err))
	}
	return string(data)
}
