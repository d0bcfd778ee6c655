package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/metrics"
)

// SSEWriter delivers events over a persistent connection using
// `data: <json>\n\n` framing. Once the peer disconnects or a terminal
// event is written, further sends are silently dropped.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context

	mu     sync.Mutex
	closed bool
}

// NewSSEWriter prepares w for event streaming and flushes the headers.
func NewSSEWriter(w http.ResponseWriter, r *http.Request) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher, ctx: r.Context()}, nil
}

// Send writes one event. Write-after-close is a no-op, not an error.
func (s *SSEWriter) Send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.ctx.Err() != nil {
		// Peer went away; drop this and everything after it.
		s.closed = true
		core.GetLogger().Debug("Peer disconnected, suppressing further events")
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		core.GetLogger().Errorw("Failed to encode stream event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		s.closed = true
		return
	}
	s.flusher.Flush()
	metrics.StreamEvents.WithLabelValues(string(e.Type)).Inc()

	if e.Terminal() {
		s.closed = true
	}
}
