// ABOUTME: Server-sent event stream pushing inbox changes to sessions
// ABOUTME: Subscribes to the broadcaster and forwards events until disconnect

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval keeps intermediaries from closing idle streams
const heartbeatInterval = 30 * time.Second

// handleEvents streams inbox events over SSE until the client disconnects
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, subID := s.broadcaster.Subscribe(r.Context())
	s.logger.Debug("event stream opened", "subscription_id", subID)

	// Send initial connection event
	fmt.Fprintf(w, "event: connected\ndata: {\"subscription_id\": %q}\n\n", subID)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			// SSE comment as heartbeat to detect dead connections
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case event, ok := <-events:
			if !ok {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("failed to marshal event", "error", err)
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
