package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"lawchat-gateway/internal/metrics"
	"lawchat-gateway/internal/models"
)

// ErrStreamClosed is returned by writes after Close.
var ErrStreamClosed = errors.New("stream already closed")

// SSEWriter writes downstream events as SSE data frames. It is safe for concurrent
// use so keep-alive pings can interleave with relayed events.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	id      string
	metrics *metrics.Metrics
	closed  bool
}

// NewSSEWriter prepares w for event streaming and writes the response headers.
func NewSSEWriter(w http.ResponseWriter, m *metrics.Metrics) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("http writer does not support flushing")
	}

	id := uuid.NewString()
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set("X-Stream-Id", id)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher, id: id, metrics: m}, nil
}

// ID identifies the stream in logs and the X-Stream-Id header.
func (s *SSEWriter) ID() string {
	return s.id
}

// Send writes one event frame.
func (s *SSEWriter) Send(ev models.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if err := s.write("data: %s\n\n", data); err != nil {
		return err
	}
	s.metrics.StreamEvent(string(ev.Type))
	return nil
}

// Close writes the [DONE] sentinel. Later writes fail with ErrStreamClosed.
func (s *SSEWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.writeLocked("data: %s\n\n", doneSentinel); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// Ping writes a comment frame consumers ignore.
func (s *SSEWriter) Ping() error {
	return s.write(": ping\n\n")
}

// KeepAlive pings every interval until ctx is done or a write fails.
func (s *SSEWriter) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Ping(); err != nil {
				return
			}
		}
	}
}

func (s *SSEWriter) write(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(format, args...)
}

func (s *SSEWriter) writeLocked(format string, args ...any) error {
	if s.closed {
		return ErrStreamClosed
	}
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
