// Package stream delivers chat frames to the client.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// ErrClosed is returned when emitting to a finished or disconnected stream
var ErrClosed = errors.New("stream closed")

// Frame is one message on the stream. Exactly one of Content, Done or Error
// is meaningful per frame.
type Frame struct {
	Content    string            `json:"content,omitempty"`
	Navigation *types.Navigation `json:"navigation,omitempty"`
	Done       bool              `json:"done,omitempty"`
	Message    *types.Message    `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Sink receives frames for one turn
type Sink interface {
	Emit(f Frame) error
	Close() error
}

const endMarker = "data: [DONE]\n\n"

// SSEWriter writes frames as server-sent events
type SSEWriter struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
}

// NewSSEWriter writes the event-stream headers and returns a sink. ctx should
// be the request context so writes stop once the client goes away.
func NewSSEWriter(ctx context.Context, w http.ResponseWriter) *SSEWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSEWriter{ctx: ctx, w: w}
	s.flusher, _ = w.(http.Flusher)
	s.flush()
	return s
}

// Emit writes a frame. An error frame also ends the stream.
func (s *SSEWriter) Emit(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.ctx.Err() != nil {
		s.closed = true
		return ErrClosed
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.closed = true
		return ErrClosed
	}
	s.flush()

	if f.Error != "" {
		s.finish()
	}
	return nil
}

// Close writes the end marker once; later calls are no-ops
func (s *SSEWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.finish()
	return nil
}

func (s *SSEWriter) finish() {
	s.closed = true
	if s.ctx.Err() != nil {
		return
	}
	if _, err := fmt.Fprint(s.w, endMarker); err == nil {
		s.flush()
	}
}

func (s *SSEWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Recorder keeps frames in memory
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
	ended  bool
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return ErrClosed
	}
	r.frames = append(r.frames, f)
	if f.Error != "" {
		r.ended = true
	}
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
	return nil
}

// Frames returns a copy of the recorded frames
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// Ended reports whether the stream was closed
func (r *Recorder) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}
