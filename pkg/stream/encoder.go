package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/harun/agentgate/internal/observability"
)

// ErrEncoderClosed is returned for writes after Close.
var ErrEncoderClosed = errors.New("encoder closed")

// Frame types.
const (
	FrameMessage = "message"
	FrameToken   = "token"
	FrameError   = "error"
)

// Client-facing error texts. Fault details only go to the log.
const (
	UnexpectedError     = "Unexpected error"
	InternalServerError = "Internal server error"
)

// Sentinel is the payload of the terminal frame.
const Sentinel = "[DONE]"

// Frame is one wire frame.
type Frame struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// FrameWriter delivers one frame payload to the client and flushes it.
type FrameWriter interface {
	WriteFrame(payload []byte) error
}

// Encoder serializes frames and guarantees that the sentinel is written
// exactly once, after which every further write is rejected.
type Encoder struct {
	mu     sync.Mutex
	w      FrameWriter
	closed bool
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w FrameWriter) *Encoder {
	return &Encoder{w: w}
}

// Message writes a message frame.
func (e *Encoder) Message(m ChatMessage) error {
	return e.write(Frame{Type: FrameMessage, Content: m})
}

// Token writes a token frame.
func (e *Encoder) Token(text string) error {
	return e.write(Frame{Type: FrameToken, Content: text})
}

// Error writes an error frame with a client-safe text.
func (e *Encoder) Error(text string) error {
	return e.write(Frame{Type: FrameError, Content: text})
}

func (e *Encoder) write(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEncoderClosed
	}
	if err := e.w.WriteFrame(payload); err != nil {
		return err
	}
	observability.RecordFrame(f.Type)
	return nil
}

// Close writes the sentinel. Only the first call writes; later calls are
// no-ops.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	observability.RecordFrame("done")
	return e.w.WriteFrame([]byte(Sentinel))
}

// SSEWriter writes frames as server-sent events: `data: <payload>\n\n`.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares w for an event stream. It fails if w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteFrame writes one event and flushes it.
func (s *SSEWriter) WriteFrame(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
