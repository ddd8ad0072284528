// Package normalizer turns raw stream frames from the research service into the
// closed set of events understood by the session state machine.
//
// The service has shipped three envelopes for the final answer over time:
//
//   - a "progress" frame that also carries answer plus references or evaluation
//   - an "answer" frame with the payload nested under data
//   - a "final" frame with the payload at top level
//
// All three normalize to the same researchtypes.AnswerEvent. Shape detection
// happens here once, so nothing downstream inspects raw JSON.
package normalizer

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"researchshell/pkg/researchtypes"
)

// Frame types emitted by the research service.
const (
	frameTypeProgress = "progress"
	frameTypeAnswer   = "answer"
	frameTypeFinal    = "final"
	frameTypeError    = "error"
)

// Normalize parses one frame body and classifies it. Frames that are not valid
// JSON objects, or whose shape is not recognised, yield a
// *researchtypes.NormalizationError; Normalize never panics.
func Normalize(raw string) (researchtypes.NormalizedEvent, error) {
	if !gjson.Valid(raw) {
		return nil, malformed(raw, "payload is not valid JSON")
	}

	frame := gjson.Parse(raw)
	if !frame.IsObject() {
		return nil, malformed(raw, "payload is not a JSON object")
	}

	frameType := strings.ToLower(strings.TrimSpace(frame.Get("type").String()))
	switch frameType {
	case frameTypeProgress:
		if carriesAnswer(frame) {
			return answerFrom(frame), nil
		}
		return progressFrom(frame), nil

	case frameTypeAnswer:
		data := frame.Get("data")
		if !data.IsObject() {
			return nil, unknownShape(raw, "answer frame has no data object")
		}
		if !hasAnswerText(data) {
			return nil, unknownShape(raw, "answer frame has no answer text")
		}
		return answerFrom(data), nil

	case frameTypeFinal:
		if !hasAnswerText(frame) {
			return nil, unknownShape(raw, "final frame has no answer text")
		}
		return answerFrom(frame), nil

	case frameTypeError:
		message := strings.TrimSpace(frame.Get("message").String())
		if message == "" {
			message = researchtypes.DefaultRemoteErrorMessage
		}
		return researchtypes.ErrorEvent{Message: message}, nil

	case "":
		return nil, unknownShape(raw, "frame has no type")

	default:
		return nil, unknownShape(raw, fmt.Sprintf("unsupported frame type %q", frameType))
	}
}

// carriesAnswer reports whether a progress frame is really a final answer:
// it must hold a non-empty answer together with references or an evaluation.
func carriesAnswer(frame gjson.Result) bool {
	if !hasAnswerText(frame) {
		return false
	}
	return present(frame.Get("references")) || present(frame.Get("evaluation"))
}

// hasAnswerText reports whether payload holds an answer string with visible text.
// An answer event closes the conversation, so a blank one is never produced.
func hasAnswerText(payload gjson.Result) bool {
	answer := payload.Get("answer")
	return answer.Type == gjson.String && strings.TrimSpace(answer.String()) != ""
}

// answerFrom extracts an answer from a payload object. Every envelope goes
// through here so equal field values always produce equal events.
func answerFrom(payload gjson.Result) researchtypes.AnswerEvent {
	return researchtypes.AnswerEvent{
		Text:       payload.Get("answer").String(),
		References: NormalizeReferences(payload.Get("references")),
		Evaluation: normalizeEvaluation(payload.Get("evaluation")),
		Thoughts:   textOrRaw(payload.Get("thoughts")),
	}
}

func progressFrom(frame gjson.Result) researchtypes.ProgressEvent {
	action := frame.Get("trackers.actionState.action")
	if !present(action) {
		action = frame.Get("action")
	}
	thoughts := frame.Get("trackers.actionState.thoughts")
	if !present(thoughts) {
		thoughts = frame.Get("thoughts")
	}

	return researchtypes.ProgressEvent{
		Step:            StepLabel(frame.Get("step")),
		ActionSummary:   textOrRaw(action),
		ThoughtsSummary: textOrRaw(thoughts),
	}
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// textOrRaw returns strings as-is and any other JSON value as its compact source text.
func textOrRaw(r gjson.Result) string {
	switch {
	case !present(r):
		return ""
	case r.Type == gjson.String:
		return r.String()
	default:
		return r.Raw
	}
}

func malformed(raw, reason string) error {
	return &researchtypes.NormalizationError{
		Kind:     researchtypes.NormalizationMalformed,
		RawFrame: raw,
		Reason:   reason,
	}
}

func unknownShape(raw, reason string) error {
	return &researchtypes.NormalizationError{
		Kind:     researchtypes.NormalizationUnknownShape,
		RawFrame: raw,
		Reason:   reason,
	}
}
