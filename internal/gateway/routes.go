package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soyeahso/askbot/internal/assistant"
	"github.com/soyeahso/askbot/internal/domain"
)

// routes builds the HTTP router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(standardMiddleware(s.log, s.cfg.AllowedOrigins)...)
	r.NotFound(handleNotFound)

	r.With(s.rateLimit).Get("/ask", s.handleAsk)
	r.With(s.rateLimit).Post("/ask", s.handleAsk)
	r.Get("/health", s.handleHealth)
	r.Get("/user/{id}", s.handleUserDetail)
	r.Get("/ws", s.handleWebSocket)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.handleCreateUser)
			r.Get("/", s.handleListUsers)
			r.Get("/{id}", s.handleGetUser)
			r.Patch("/{id}", s.handleUpdateUser)
			r.Delete("/{id}", s.handleDeleteUser)
			r.Get("/{id}/context", s.handleUserContext)
			r.Get("/{id}/sessions", s.handleUserSessions)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleClearSession)
			r.Get("/{id}/search", s.handleSearchSession)
			r.Get("/{id}/info", s.handleSessionInfo)
		})

		r.Get("/audit", s.handleAudit)
	})

	return r
}

// clearSession deletes a session log and tells the clients watching it.
func (s *Server) clearSession(ctx context.Context, sessionID string) (bool, error) {
	deleted, err := s.sessions.DeleteSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if deleted {
		n := s.clients.NotifySession(sessionID, EventSessionCleared, map[string]any{"session_id": sessionID}, s.nextSeq())
		s.log.Debug().Str("session", sessionID).Int("notified", n).Msg("session cleared")
	}
	return deleted, nil
}

// RequestHandler processes an RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything an RPC handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	if err := rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message}); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send error")
	}
}

// RespondErr maps err through the HTTP error taxonomy.
func (rc *RequestContext) RespondErr(err error) {
	rc.RespondError(codeFor(err), err.Error())
}

// Params unmarshals the request params into target.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

// registerRPCHandlers sets up the WebSocket methods.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("ask", s.rpcAsk)
	s.Handle("session.info", s.rpcSessionInfo)
	s.Handle("session.recent", s.rpcSessionRecent)
	s.Handle("session.search", s.rpcSessionSearch)
	s.Handle("session.clear", s.rpcSessionClear)
	s.Handle("user.get", s.rpcUserGet)
	s.Handle("user.context", s.rpcUserContext)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := HealthResponse{Status: "healthy", Redis: "ok", Version: s.version, Clients: s.clients.Count()}
	if s.health != nil {
		if err := s.health.Ping(rc.Ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Redis = "unavailable"
		}
	}
	rc.Respond(resp)
}

func (s *Server) rpcAsk(rc *RequestContext) {
	if !s.askLimiter.Allow(rc.Client.RemoteAddr) {
		rc.RespondError("rate_limited", "too many requests")
		return
	}
	var req assistant.AskRequest
	if err := rc.Params(&req); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = rc.Client.Info.UserID
	}
	if !rc.ownsUser(req.UserID) {
		return
	}
	rc.Respond(s.service.Ask(rc.Ctx, req))
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
	Count     int    `json:"count,omitempty"`
	Query     string `json:"q,omitempty"`
}

// sessionParams decodes params and defaults the session to the client's
// user session. A client bound to a user may only name its own session.
func (rc *RequestContext) sessionParams() (sessionParams, bool) {
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return p, false
	}
	if p.SessionID == "" {
		p.SessionID = domain.SessionIDForUser(rc.Client.Info.UserID)
	}
	if !rc.Client.Watches(p.SessionID) {
		rc.RespondError("forbidden", "session belongs to another user")
		return p, false
	}
	return p, true
}

// ownsUser reports whether the client may act as userID, and answers
// forbidden when it may not.
func (rc *RequestContext) ownsUser(userID string) bool {
	if own := rc.Client.Info.UserID; own != "" && own != userID {
		rc.RespondError("forbidden", "user belongs to another client")
		return false
	}
	return true
}

func (s *Server) rpcSessionInfo(rc *RequestContext) {
	p, ok := rc.sessionParams()
	if !ok {
		return
	}
	info, err := s.sessions.Info(rc.Ctx, p.SessionID)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(info)
}

func (s *Server) rpcSessionRecent(rc *RequestContext) {
	p, ok := rc.sessionParams()
	if !ok {
		return
	}
	if p.Count == 0 {
		p.Count = assistant.DefaultMessagesLimit
	}
	turns, err := s.sessions.ReadRecent(rc.Ctx, p.SessionID, p.Count)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(map[string]any{"session_id": p.SessionID, "messages": turns})
}

func (s *Server) rpcSessionSearch(rc *RequestContext) {
	p, ok := rc.sessionParams()
	if !ok {
		return
	}
	turns, err := s.sessions.Search(rc.Ctx, p.SessionID, p.Query)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(map[string]any{"session_id": p.SessionID, "messages": turns})
}

func (s *Server) rpcSessionClear(rc *RequestContext) {
	p, ok := rc.sessionParams()
	if !ok {
		return
	}
	deleted, err := s.clearSession(rc.Ctx, p.SessionID)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(map[string]any{"session_id": p.SessionID, "deleted": deleted})
}

type userParams struct {
	UserID string `json:"userId"`
}

func (rc *RequestContext) userID() (string, bool) {
	var p userParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return "", false
	}
	if p.UserID == "" {
		p.UserID = rc.Client.Info.UserID
	}
	if p.UserID == "" {
		rc.RespondError("invalid_params", "userId is required")
		return "", false
	}
	if !rc.ownsUser(p.UserID) {
		return "", false
	}
	return p.UserID, true
}

func (s *Server) rpcUserGet(rc *RequestContext) {
	id, ok := rc.userID()
	if !ok {
		return
	}
	p, err := s.profiles.Get(rc.Ctx, id)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(p)
}

func (s *Server) rpcUserContext(rc *RequestContext) {
	id, ok := rc.userID()
	if !ok {
		return
	}
	uc := s.profiles.BuildContext(rc.Ctx, id)
	if uc == nil {
		rc.RespondError("not_found", "no context for user "+id)
		return
	}
	rc.Respond(uc)
}
