package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/hitalin/notedeck/internal/errs"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}

// writeFault maps an internal error to its sanitized (code, message, status)
// triple and writes it as the gateway's uniform error body.
func writeFault(w http.ResponseWriter, err error) {
	code, message := errs.Sanitize(err)
	status := 500
	if e, ok := err.(*errs.Error); ok {
		status = errs.HTTPStatus(e.Kind)
	}
	writeError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
