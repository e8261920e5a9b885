package gateway

import (
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/hitalin/notedeck/internal/errs"
)

// handleProxyImage fetches (or serves from cache) an https:// image URL so
// the UI never makes a direct cross-origin request to a remote server.
func (s *Server) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if !strings.HasPrefix(url, "https://") {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "url must be https")
		return
	}

	entry, err := s.images.GetOrFetch(r.Context(), url)
	if err != nil {
		writeFault(w, err)
		return
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		writeFault(w, errs.Wrap(errs.KindNetwork, err, "image unavailable"))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
