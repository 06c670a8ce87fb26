package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/askbot/internal/assistant"
	"github.com/soyeahso/askbot/internal/domain"
)

const (
	maxBodyBytes       = 1 << 20
	sessionInfoWorkers = 8
)

// HealthResponse is returned by GET /health and the health RPC.
type HealthResponse struct {
	Status    string `json:"status"`
	Redis     string `json:"redis"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
	Clients   int    `json:"clients,omitempty"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Success: false, Error: message, Code: code})
}

// respondErr maps err to a status code and writes the error body.
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), codeFor(err), err.Error())
}

// statusFor maps the domain error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var agentErr *domain.AgentError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &agentErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// codeFor is the machine-readable counterpart of statusFor.
func codeFor(err error) string {
	var agentErr *domain.AgentError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.As(err, &agentErr):
		return "agent_error"
	default:
		return "internal"
	}
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidArgument, name)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.checkHealth(r)
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

func (s *Server) checkHealth(r *http.Request) (HealthResponse, bool) {
	resp := HealthResponse{
		Status:    "healthy",
		Redis:     "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.health == nil {
		return resp, true
	}
	if err := s.health.Ping(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		resp.Status = "unhealthy"
		resp.Redis = "unavailable"
		return resp, false
	}
	return resp, true
}

// handleAsk answers GET /ask?question=&user_id= and POST /ask with a JSON
// body. Once the question is present the envelope is always 200.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req assistant.AskRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
	} else {
		q := r.URL.Query()
		req = assistant.AskRequest{Question: q.Get("question"), UserID: q.Get("user_id")}
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", "question is required")
		return
	}

	resp := s.service.Ask(r.Context(), req)
	if errors.Is(resp.Err, domain.ErrInvalidArgument) {
		respondJSON(w, http.StatusBadRequest, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	sessionsLimit, err := queryInt(r, "sessions_limit", assistant.DefaultSessionsLimit)
	if err != nil {
		respondErr(w, err)
		return
	}
	messagesLimit, err := queryInt(r, "messages_limit", assistant.DefaultMessagesLimit)
	if err != nil {
		respondErr(w, err)
		return
	}

	detail, err := s.service.UserDetail(r.Context(), chi.URLParam(r, "id"), sessionsLimit, messagesLimit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// Admin: profiles

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var np domain.NewProfile
	if err := decodeJSON(r, &np); err != nil {
		respondErr(w, err)
		return
	}
	p, err := s.profiles.Create(r.Context(), np)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.profiles.List(r.Context(), r.URL.Query().Get("pattern"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users, "total": len(users)})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var upd domain.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		respondErr(w, err)
		return
	}
	p, err := s.profiles.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.DeleteUser(r.Context(), chi.URLParam(r, "id"), queryBool(r, "cascade"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleUserContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	uc := s.profiles.BuildContext(r.Context(), id)
	if uc == nil {
		respondError(w, http.StatusNotFound, "not_found", "no context for user "+id)
		return
	}
	respondJSON(w, http.StatusOK, uc)
}

func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", assistant.DefaultSessionsLimit)
	if err != nil {
		respondErr(w, err)
		return
	}
	sessions, err := s.profiles.Sessions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": len(sessions)})
}

// Admin: sessions

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if !queryBool(r, "details") {
		respondJSON(w, http.StatusOK, map[string]any{"sessions": ids, "total": len(ids)})
		return
	}

	infos := make([]domain.SessionInfo, len(ids))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(sessionInfoWorkers)
	for i, id := range ids {
		g.Go(func() error {
			info, err := s.sessions.Info(ctx, id)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": infos, "total": len(infos)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		turns []domain.ChatTurn
		err   error
	)
	if r.URL.Query().Has("recent") {
		var n int
		if n, err = queryInt(r, "recent", 0); err != nil {
			respondErr(w, err)
			return
		}
		turns, err = s.sessions.ReadRecent(r.Context(), id, n)
	} else {
		turns, err = s.sessions.ReadAll(r.Context(), id)
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": turns, "total": len(turns)})
}

func (s *Server) handleSearchSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query().Get("q")
	turns, err := s.sessions.Search(r.Context(), id, q)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "query": q, "messages": turns, "total": len(turns)})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.clearSession(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "deleted": deleted})
}

// Admin: audit

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		respondError(w, http.StatusNotFound, "not_found", "audit log is disabled")
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		respondErr(w, err)
		return
	}
	entries, err := s.audit.Recent(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": len(entries)})
}
