package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type queryRequest struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// handleQuery round-trips a deck/command query to the UI over the event
// bus and blocks for its response.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.bridge.Query(r.Context(), req.Type, req.Params)
	if err != nil {
		writeFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

type queryRespondRequest struct {
	Result json.RawMessage `json:"result"`
}

// handleQueryRespond lets the UI deliver the response to a query it was
// asked over the event bus.
func (s *Server) handleQueryRespond(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req queryRespondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.bridge.Respond(id, req.Result)
	w.WriteHeader(http.StatusNoContent)
}
