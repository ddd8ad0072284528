package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"researchshell/internal/logger"
	"researchshell/pkg/researchtypes"
)

// DebugTransport is an http.RoundTripper that records every exchange with the
// research service into the debug trace. Event-stream response bodies are
// passed through untouched; their frames are recorded by the session pump. A
// response counts as a stream when it says so or when the request asked for
// one, since servers do not always label the stream.
type DebugTransport struct {
	base     http.RoundTripper
	recorder researchtypes.TraceRecorder
}

// NewDebugTransport wraps base. A nil base means http.DefaultTransport.
func NewDebugTransport(base http.RoundTripper, recorder researchtypes.TraceRecorder) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if recorder == nil {
		recorder = researchtypes.NopRecorder{}
	}
	return &DebugTransport{base: base, recorder: recorder}
}

// exchangeMeta is the derived value stored with request and response entries.
type exchangeMeta struct {
	Method     string              `json:"method,omitempty"`
	URL        string              `json:"url"`
	Headers    map[string][]string `json:"headers,omitempty"`
	StatusCode int                 `json:"statusCode,omitempty"`
	DurationMS int64               `json:"durationMs,omitempty"`
	Streaming  bool                `json:"streaming,omitempty"`
}

// RoundTrip implements http.RoundTripper.
func (dt *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	requestBody, err := captureRequestBody(req)
	if err != nil {
		logger.Error("Failed to capture request", "error", err)
	}
	dt.recorder.Record(researchtypes.TraceRequest, requestBody, exchangeMeta{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: sanitizeHeaders(req.Header),
	})

	resp, err := dt.base.RoundTrip(req)
	elapsed := time.Since(startTime)
	if err != nil {
		dt.recorder.Record(researchtypes.TraceTransportError, err.Error(), exchangeMeta{
			Method:     req.Method,
			URL:        req.URL.String(),
			DurationMS: elapsed.Milliseconds(),
		})
		return resp, err
	}

	meta := exchangeMeta{
		URL:        req.URL.String(),
		Headers:    sanitizeHeaders(resp.Header),
		StatusCode: resp.StatusCode,
		DurationMS: elapsed.Milliseconds(),
	}

	if isEventStream(resp.Header.Get("Content-Type")) || acceptsEventStream(req.Header) {
		meta.Streaming = true
		dt.recorder.Record(researchtypes.TraceResponse, "", meta)
		return resp, nil
	}

	responseBody, captureErr := captureResponseBody(resp)
	if captureErr != nil {
		logger.Error("Failed to capture response", "error", captureErr)
	}
	dt.recorder.Record(researchtypes.TraceResponse, responseBody, meta)
	logger.Debug("Exchange captured", "url", meta.URL, "status_code", resp.StatusCode, "body_length", len(responseBody))

	return resp, nil
}

// captureRequestBody reads the request body and restores it for transmission.
func captureRequestBody(req *http.Request) (string, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return "", nil
	}
	bodyBytes, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	return compactJSON(bodyBytes), nil
}

// captureResponseBody reads the response body and restores it for the client.
func captureResponseBody(resp *http.Response) (string, error) {
	if resp.Body == nil {
		return "", nil
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return compactJSON(bodyBytes), nil
}

// compactJSON returns JSON bodies without insignificant whitespace and any
// other body unchanged.
func compactJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err == nil {
		return buf.String()
	}
	return string(data)
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}

// acceptsEventStream reports whether the request asked for an event stream.
func acceptsEventStream(headers http.Header) bool {
	for _, value := range headers.Values("Accept") {
		for _, part := range strings.Split(value, ",") {
			if isEventStream(strings.TrimSpace(part)) {
				return true
			}
		}
	}
	return false
}

// sanitizeHeaders masks credential-bearing headers.
func sanitizeHeaders(headers http.Header) map[string][]string {
	sanitized := make(map[string][]string, len(headers))

	for name, values := range headers {
		lowerName := strings.ToLower(name)

		if strings.Contains(lowerName, "authorization") ||
			strings.Contains(lowerName, "api-key") ||
			strings.Contains(lowerName, "token") ||
			strings.Contains(lowerName, "cookie") {
			if len(values) > 0 && len(values[0]) > 10 {
				sanitized[name] = []string{values[0][:10] + "***[MASKED]***"}
			} else {
				sanitized[name] = []string{"***[MASKED]***"}
			}
			continue
		}
		sanitized[name] = append([]string(nil), values...)
	}

	return sanitized
}
