package gateway

import (
	"cmp"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/askbot/internal/assistant"
	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/logging"
	"github.com/soyeahso/askbot/internal/metrics"
	"github.com/soyeahso/askbot/internal/store"
	"github.com/soyeahso/askbot/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxFrameBytes    = 1 << 20
	handshakeTimeout = 10 * time.Second
	shutdownGrace    = 10 * time.Second
)

// SessionStore is the chat memory surface exposed by the admin routes.
type SessionStore interface {
	ReadAll(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
	ReadRecent(ctx context.Context, sessionID string, count int) ([]domain.ChatTurn, error)
	Search(ctx context.Context, sessionID, q string) ([]domain.ChatTurn, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
	Info(ctx context.Context, sessionID string) (domain.SessionInfo, error)
	ListSessions(ctx context.Context) ([]string, error)
}

// ProfileStore is the profile surface exposed by the admin routes.
type ProfileStore interface {
	Create(ctx context.Context, np domain.NewProfile) (domain.Profile, error)
	Get(ctx context.Context, userID string) (domain.Profile, error)
	Update(ctx context.Context, userID string, upd domain.ProfileUpdate) (domain.Profile, error)
	List(ctx context.Context, pattern string) ([]domain.Profile, error)
	Sessions(ctx context.Context, userID string, limit int) ([]domain.Activity, error)
	BuildContext(ctx context.Context, userID string) *domain.UserContext
}

// AuditReader serves GET /audit.
type AuditReader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]store.AuditEntry, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the gateway serves.
type Deps struct {
	Service  *assistant.Service
	Sessions SessionStore
	Profiles ProfileStore
	Health   Pinger
}

// Server is the askbot HTTP + WebSocket gateway.
type Server struct {
	cfg      config.GatewayConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	service  *assistant.Service
	sessions SessionStore
	profiles ProfileStore
	health   Pinger
	audit    AuditReader
	metrics  *metrics.Metrics

	askLimiter  *ipLimiter
	authLimiter *authRateLimiter

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
	router     http.Handler
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithAudit serves the exchange log at GET /audit.
func WithAudit(a AuditReader) ServerOption {
	return func(s *Server) {
		s.audit = a
	}
}

// WithMetrics exposes m at GET /metrics and counts WebSocket clients.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a gateway server.
func New(cfg config.GatewayConfig, deps Deps, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("gateway"),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		service:     deps.Service,
		sessions:    deps.Sessions,
		profiles:    deps.Profiles,
		health:      deps.Health,
		askLimiter:  newIPLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.clients = NewClientRegistry(s.metrics, log.Sub("clients"))
	s.registerRPCHandlers()
	s.router = s.routes()
	return s
}

// checkWebSocketOrigin allows requests without an Origin header and those
// whose Origin is listed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

// resolveBindAddr maps the bind mode to a listen address. Unknown modes
// stay on loopback.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		host = cmp.Or(cfg.CustomBindHost, "0.0.0.0")
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

func (s *Server) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if !s.cfg.TLS.Enabled {
		if s.auth.Mode == AuthModeToken && s.cfg.Bind != "loopback" {
			s.log.Warn().Msg("TLS is not enabled, the admin token travels in cleartext")
		}
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	s.log.Info().Msg("TLS enabled")
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Start serves HTTP and WebSocket traffic until ctx is cancelled, then drains
// clients and shuts down within shutdownGrace.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen(resolveBindAddr(s.cfg))
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Strs("methods", s.Methods()).
		Msg("gateway listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info().Int("clients", s.clients.Count()).Msg("gateway stopping")
		s.clients.CloseAll()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(stopCtx)
	})
	return g.Wait()
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client, err := s.handshake(conn, r.RemoteAddr)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshake runs challenge, connect and hello-ok on a fresh connection and
// returns the authenticated client.
func (s *Server) handshake(conn *websocket.Conn, remoteAddr string) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	reqID, params, err := readConnect(conn)
	if err != nil {
		return nil, err
	}
	res := Authorize(s.auth, params.Auth)
	if !res.OK {
		rejectConn(conn, reqID, "unauthorized", res.Reason)
		return nil, fmt.Errorf("auth failed: %s", res.Reason)
	}

	client := NewClient(conn, params.Client, remoteAddr, res)
	hello, err := NewResponse(reqID, s.helloFor(client))
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("authMethod", res.Method).
		Msg("client authenticated")
	return client, nil
}

// readConnect reads the first client frame, which must be a connect request
// speaking a supported protocol. Protocol violations are answered and the
// connection is closed.
func readConnect(conn *websocket.Conn) (string, ConnectParams, error) {
	var params ConnectParams
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", params, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", params, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		rejectConn(conn, frame.ID, "protocol_error", "expected connect request")
		return "", params, fmt.Errorf("first frame was %s %q, not connect", frame.Type, frame.Method)
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		rejectConn(conn, frame.ID, "invalid_params", "invalid connect params")
		return "", params, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion {
		rejectConn(conn, frame.ID, "protocol_unsupported", fmt.Sprintf("server speaks protocol %d", ProtocolVersion))
		return "", params, fmt.Errorf("client protocol %d..%d unsupported", params.MinProtocol, params.MaxProtocol)
	}
	return frame.ID, params, nil
}

func (s *Server) helloFor(c *Client) HelloOK {
	return HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  c.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventConnectChallenge, EventSessionCleared},
		},
	}
}

// readLoop serves requests from an authenticated client until the socket
// closes. Responses and events sent by a client are ignored.
func (s *Server) readLoop(ctx context.Context, c *Client) {
	log := s.log.With("connId", c.ConnID)
	for {
		frame, err := c.ReadFrame()
		switch {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			log.Debug().Msg("client disconnected")
			return
		case err != nil:
			log.Debug().Err(err).Msg("read failed")
			return
		case frame.Type == FrameTypeRequest:
			s.dispatch(ctx, c, frame)
		default:
			log.Debug().Str("type", frame.Type).Msg("non-request frame ignored")
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, frame Frame) {
	h, ok := s.handlers[frame.Method]
	if !ok {
		c.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: fmt.Sprintf("unknown method %q", frame.Method),
		})
		return
	}
	h(&RequestContext{Ctx: ctx, Client: c, Frame: frame, Server: s})
}

// nextSeq returns the next event sequence number.
func (s *Server) nextSeq() int64 {
	return s.eventSeq.Add(1)
}

// rejectConn answers reqID with an error and sends a policy-violation close.
func rejectConn(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
