package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitalin/notedeck/internal/models"
)

// endpointList is the self-description returned by GET /api.
type endpointList struct {
	Endpoints []string `json:"endpoints"`
	TokenPath string   `json:"tokenPath"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, endpointList{
		Endpoints: []string{
			"/api/accounts",
			"/api/{host}/timeline/{type}",
			"/api/{host}/notifications",
			"/api/{host}/note",
			"/api/{host}/search",
			"/api/{host}/notes/{id}",
			"/api/{host}/users/{id}",
			"/api/events",
			"/proxy/image",
		},
		TokenPath: s.cfg.TokenPath,
	})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.ListAccounts()
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

type startAuthRequest struct {
	Host string `json:"host"`
}

func (s *Server) handleStartAuth(w http.ResponseWriter, r *http.Request) {
	var req startAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "host is required")
		return
	}
	session, err := s.svc.StartAuth(req.Host)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type completeAuthRequest struct {
	SessionID string `json:"sessionId"`
	Host      string `json:"host"`
}

func (s *Server) handleCompleteAuth(w http.ResponseWriter, r *http.Request) {
	var req completeAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := s.svc.CompleteAuth(r.Context(), req.SessionID, req.Host)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := s.svc.DeleteAccount(r.Context(), accountID); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnectAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := s.svc.ConnectAccount(r.Context(), accountID); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnectAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := s.svc.DisconnectAccount(r.Context(), accountID); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveHost resolves the {host} path segment to an accountID and live
// (host, token) credential pair, or writes a 404 and returns ok=false.
func (s *Server) resolveHost(w http.ResponseWriter, r *http.Request) (accountID, host, token string, ok bool) {
	host = chi.URLParam(r, "host")
	accountID, err := s.svc.AccountIDForHost(host)
	if err != nil {
		writeFault(w, err)
		return "", "", "", false
	}
	host, token, err = s.svc.Credentials(accountID)
	if err != nil {
		writeFault(w, err)
		return "", "", "", false
	}
	return accountID, host, token, true
}

func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	accountID, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	timelineType, valid := models.ParseTimelineType(chi.URLParam(r, "type"))
	if !valid {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown timeline type")
		return
	}
	opts := timelineOptionsFromQuery(r)

	notes, err := s.svc.Upstream().GetTimeline(r.Context(), host, token, accountID, timelineType, opts)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	accountID, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	opts := timelineOptionsFromQuery(r)

	notifications, err := s.svc.Upstream().GetNotifications(r.Context(), host, token, accountID, opts)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	accountID, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	var params models.CreateNoteParams
	if !decodeJSON(w, r, &params) {
		return
	}

	note, err := s.svc.Upstream().CreateNote(r.Context(), host, token, accountID, params)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleSearchNotes(w http.ResponseWriter, r *http.Request) {
	accountID, _, _, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "q is required")
		return
	}
	limit := clampLimit(parseInt64(r.URL.Query().Get("limit"), 20))

	notes, err := s.svc.Store().SearchCachedNotes(accountID, q, limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	accountID, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	note, err := s.svc.Upstream().GetNote(r.Context(), host, token, accountID, chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	_, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	if err := s.svc.Upstream().DeleteNote(r.Context(), host, token, chi.URLParam(r, "id")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNoteChildren(w http.ResponseWriter, r *http.Request) {
	accountID, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	limit := clampLimit(parseInt64(r.URL.Query().Get("limit"), 20))
	notes, err := s.svc.Upstream().GetNoteChildren(r.Context(), host, token, accountID, chi.URLParam(r, "id"), limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleNoteConversation(w http.ResponseWriter, r *http.Request) {
	accountID, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	limit := clampLimit(parseInt64(r.URL.Query().Get("limit"), 20))
	notes, err := s.svc.Upstream().GetNoteConversation(r.Context(), host, token, accountID, chi.URLParam(r, "id"), limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleListReactions(w http.ResponseWriter, r *http.Request) {
	_, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	var reactionType *string
	if v := r.URL.Query().Get("type"); v != "" {
		reactionType = &v
	}
	limit := clampLimit(parseInt64(r.URL.Query().Get("limit"), 20))

	reactions, err := s.svc.Upstream().ListReactions(r.Context(), host, token, chi.URLParam(r, "id"), reactionType, limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reactions)
}

type reactionRequest struct {
	Reaction string `json:"reaction"`
}

func (s *Server) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	_, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	var req reactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.svc.Upstream().React(r.Context(), host, token, chi.URLParam(r, "id"), req.Reaction); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	_, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	if err := s.svc.Upstream().Unreact(r.Context(), host, token, chi.URLParam(r, "id")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	_, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	user, err := s.svc.Upstream().GetUserDetail(r.Context(), host, token, chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleGetUserNotes(w http.ResponseWriter, r *http.Request) {
	accountID, host, token, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	opts := timelineOptionsFromQuery(r)
	notes, err := s.svc.Upstream().GetUserNotes(r.Context(), host, token, accountID, chi.URLParam(r, "id"), opts)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleSubscribeTimeline(w http.ResponseWriter, r *http.Request) {
	accountID, host, _, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	timelineType, valid := models.ParseTimelineType(chi.URLParam(r, "type"))
	if !valid {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown timeline type")
		return
	}
	id, err := s.svc.SubscribeTimeline(accountID, host, timelineType)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subscriptionId": id})
}

func (s *Server) handleSubscribeMain(w http.ResponseWriter, r *http.Request) {
	accountID, host, _, ok := s.resolveHost(w, r)
	if !ok {
		return
	}
	id, err := s.svc.SubscribeMain(accountID, host)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subscriptionId": id})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	subscriptionID := chi.URLParam(r, "subscriptionID")
	if err := s.svc.Unsubscribe(accountID, subscriptionID); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func timelineOptionsFromQuery(r *http.Request) models.TimelineOptions {
	q := r.URL.Query()
	limit := clampLimit(parseInt64(q.Get("limit"), 20))
	var sinceID, untilID *string
	if v := q.Get("sinceId"); v != "" {
		sinceID = &v
	}
	if v := q.Get("untilId"); v != "" {
		untilID = &v
	}
	return models.NewTimelineOptions(limit, sinceID, untilID)
}

func clampLimit(limit int64) int64 {
	switch {
	case limit < 1:
		return 1
	case limit > 200:
		return 200
	default:
		return limit
	}
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "request body required")
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return false
	}
	return true
}
