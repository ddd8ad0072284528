// Package transport talks to the remote research service: it initiates a query
// over HTTP and opens the server-sent event stream that carries its progress.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"researchshell/internal/logger"
	"researchshell/pkg/researchtypes"
)

// Defaults for the initiating request.
const (
	DefaultBaseURL        = "http://localhost:3000"
	DefaultBudget         = 1000000
	DefaultMaxBadAttempt  = 3
	DefaultRequestTimeout = 30 * time.Second
)

// Service endpoints, relative to the base URL.
const (
	queryPath  = "/api/v1/query"
	streamPath = "/api/v1/stream/"
)

// maxErrorBody caps how much of a failed response is kept in the error message.
const maxErrorBody = 512

// ErrNoCorrelationToken is returned when the initiating response carries no
// request id. It matches researchtypes.ErrTransport.
var ErrNoCorrelationToken = fmt.Errorf("%w: response carried no requestId", researchtypes.ErrTransport)

// Options configures a Client.
type Options struct {
	BaseURL        string
	Budget         int
	MaxBadAttempt  int
	RequestTimeout time.Duration
	// UserAgent is sent with every request when set.
	UserAgent string

	// Recorder receives request and response metadata. Nil disables capture.
	Recorder researchtypes.TraceRecorder
	// Base is the underlying RoundTripper. Nil means http.DefaultTransport.
	Base http.RoundTripper
}

// Client is the research service client.
type Client struct {
	baseURL       string
	budget        int
	maxBadAttempt int
	userAgent     string

	// requests carries the configured timeout; streams has none because a
	// research run may legitimately take minutes.
	requests *http.Client
	streams  *http.Client
	logger   *log.Logger
}

// queryRequest is the body of the initiating request.
type queryRequest struct {
	Q             string `json:"q"`
	Budget        int    `json:"budget"`
	MaxBadAttempt int    `json:"maxBadAttempt"`
}

// NewClient creates a client, filling zero options with defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.MaxBadAttempt <= 0 {
		opts.MaxBadAttempt = DefaultMaxBadAttempt
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	var rt http.RoundTripper = opts.Base
	if rt == nil {
		rt = http.DefaultTransport
	}
	if opts.Recorder != nil {
		rt = NewDebugTransport(rt, opts.Recorder)
	}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		budget:        opts.Budget,
		maxBadAttempt: opts.MaxBadAttempt,
		userAgent:     opts.UserAgent,
		requests:      &http.Client{Transport: rt, Timeout: opts.RequestTimeout},
		streams:       &http.Client{Transport: rt},
		logger:        logger.NewStyledLogger("Transport"),
	}
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// InitiateQuery posts the question and returns the correlation token that
// identifies the resulting event stream.
func (c *Client) InitiateQuery(ctx context.Context, q string) (string, error) {
	body, err := json.Marshal(queryRequest{Q: q, Budget: c.budget, MaxBadAttempt: c.maxBadAttempt})
	if err != nil {
		return "", fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+queryPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", researchtypes.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.setUserAgent(req)

	c.logger.Debug("Initiating query", "url", req.URL.String(), "query_length", len(q))

	resp, err := c.requests.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to send query: %w", researchtypes.ErrTransport, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", researchtypes.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: HTTP error %d: %s", researchtypes.ErrTransport, resp.StatusCode, truncate(data))
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("%w: invalid JSON response: %s", researchtypes.ErrTransport, truncate(data))
	}

	requestID := gjson.GetBytes(data, "requestId")
	if requestID.Type != gjson.String || strings.TrimSpace(requestID.Str) == "" {
		return "", ErrNoCorrelationToken
	}

	c.logger.Debug("Query accepted", "request", requestID.Str)
	return requestID.Str, nil
}

// OpenStream opens the event stream for a request id. The returned stream
// must be closed by the caller.
func (c *Client) OpenStream(ctx context.Context, requestID string) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+streamPath+url.PathEscape(requestID), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to create stream request: %w", researchtypes.ErrTransport, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.setUserAgent(req)

	resp, err := c.streams.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to open stream: %w", researchtypes.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: HTTP error %d opening stream: %s", researchtypes.ErrTransport, resp.StatusCode, truncate(data))
	}

	c.logger.Debug("Stream opened", "request", requestID)
	return newStream(requestID, resp.Body, cancel), nil
}

func (c *Client) setUserAgent(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func truncate(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
