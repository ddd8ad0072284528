package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"researchshell/internal/logger"
	"researchshell/pkg/researchtypes"
)

// maxLineSize bounds a single SSE line. Final answers with many references
// easily exceed bufio's 64 KiB default.
const maxLineSize = 4 * 1024 * 1024

// Stream end conditions. Both match researchtypes.ErrTransport.
var (
	// ErrStreamEnded means the server closed the stream cleanly.
	ErrStreamEnded = fmt.Errorf("%w: stream ended", researchtypes.ErrTransport)
	// ErrStreamClosed means the stream was closed locally.
	ErrStreamClosed = fmt.Errorf("%w: stream closed", researchtypes.ErrTransport)
)

// Frame is one dispatched server-sent event.
type Frame struct {
	Event string // Event type; empty means the default "message" type
	Data  string // Data lines joined with "\n"
	ID    string // Last event id seen on the stream
}

// IsMessage reports whether the frame is a default (unnamed or "message") event.
func (f Frame) IsMessage() bool {
	return f.Event == "" || f.Event == "message"
}

// Stream delivers the frames of one event stream in arrival order.
type Stream struct {
	requestID string
	body      io.ReadCloser
	cancel    context.CancelFunc
	frames    chan Frame
	done      chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	err       error
	logger    *log.Logger
}

func newStream(requestID string, body io.ReadCloser, cancel context.CancelFunc) *Stream {
	s := &Stream{
		requestID: requestID,
		body:      body,
		cancel:    cancel,
		frames:    make(chan Frame),
		done:      make(chan struct{}),
		logger:    logger.NewStyledLogger("Transport"),
	}
	go s.read()
	return s
}

// NewStream wraps an already open event-stream body. Closing the stream closes body.
func NewStream(requestID string, body io.ReadCloser) *Stream {
	return newStream(requestID, body, func() {})
}

// RequestID returns the correlation token the stream belongs to.
func (s *Stream) RequestID() string {
	return s.requestID
}

// Frames returns the channel of dispatched events. It is closed when the
// stream ends for any reason.
func (s *Stream) Frames() <-chan Frame {
	return s.frames
}

// Err returns why the stream ended. It is only meaningful after Frames is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops reading and releases the connection. It is idempotent and safe
// to call from any goroutine.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.cancel()
		_ = s.body.Close()
	})
	return nil
}

func (s *Stream) read() {
	defer close(s.frames)

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		data      strings.Builder
		hasData   bool
		eventType string
		lastID    string
	)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if line == "" {
			if hasData {
				frame := Frame{Event: eventType, Data: data.String(), ID: lastID}
				logger.FrameReceived(s.requestID, frame.Event, len(frame.Data))
				select {
				case s.frames <- frame:
				case <-s.done:
					s.finish(nil)
					return
				}
			}
			data.Reset()
			hasData = false
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				lastID = value
			}
		case "retry":
			// Reconnection is not supported; the hint is ignored.
		default:
			s.logger.Debug("Ignoring unknown SSE field", "field", field)
		}
	}

	// An event without its terminating blank line is discarded.
	s.finish(scanner.Err())
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		s.err = ErrStreamClosed
	case err != nil:
		s.err = fmt.Errorf("%w: error reading stream: %w", researchtypes.ErrTransport, err)
	default:
		s.err = ErrStreamEnded
	}
}
