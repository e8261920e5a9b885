package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/hitalin/notedeck/internal/eventbus"
)

const sseKeepalive = 15 * time.Second

// handleEvents streams the event bus to a subscriber as SSE. An optional
// type=a,b,c query parameter filters by type prefix match.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}

	var prefixes []string
	if raw := r.URL.Query().Get("type"); raw != "" {
		prefixes = strings.Split(raw, ",")
	}

	ch, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	if s.metrics != nil {
		s.metrics.Gateway.SSEClients.Inc()
		defer s.metrics.Gateway.SSEClients.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			if !matchesPrefix(ev.Type, prefixes) {
				continue
			}
			frame, err := eventbus.MarshalEvent(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func matchesPrefix(eventType string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}
