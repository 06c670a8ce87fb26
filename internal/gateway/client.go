package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/logging"
	"github.com/soyeahso/askbot/internal/metrics"
)

// Client is one authenticated WebSocket peer. A client that presented a
// user id at connect is bound to that user's session; one without is an
// operator and sees every session.
type Client struct {
	ConnID      string
	Info        ClientInfo
	RemoteAddr  string
	Socket      *websocket.Conn
	AuthResult  AuthResult
	ConnectedAt time.Time

	mu     sync.Mutex // serializes writes
	closed bool
}

func NewClient(conn *websocket.Conn, info ClientInfo, remoteAddr string, authResult AuthResult) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		RemoteAddr:  remoteAddr,
		Socket:      conn,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
	}
}

// SessionID is the chat session the client is bound to, or "" for operators.
func (c *Client) SessionID() string {
	if c.Info.UserID == "" {
		return ""
	}
	return domain.SessionIDForUser(c.Info.UserID)
}

// Watches reports whether events about sessionID concern this client.
func (c *Client) Watches(sessionID string) bool {
	own := c.SessionID()
	return own == "" || own == sessionID
}

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.Socket.WriteJSON(frame)
}

func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond answers request reqID with payload.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError answers request reqID with an error.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame blocks for the next frame. Only the connection's read loop
// calls it.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry tracks connected clients and fans session events out to
// the ones watching.
type ClientRegistry struct {
	mu      sync.RWMutex
	byConn  map[string]*Client
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry. m may be nil.
func NewClientRegistry(m *metrics.Metrics, log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		byConn:  make(map[string]*Client),
		metrics: m,
		log:     log,
	}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[c.ConnID] = c
	r.metrics.ClientConnected(1)
	r.log.Info().
		Str("connId", c.ConnID).
		Str("client", c.Info.ID).
		Str("user", c.Info.UserID).
		Msg("client connected")
}

// Remove drops a client. Unknown ids are ignored.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[connID]; !ok {
		return
	}
	delete(r.byConn, connID)
	r.metrics.ClientConnected(-1)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// NotifySession sends an event about sessionID to every client watching it
// and returns how many were reached.
func (r *ClientRegistry) NotifySession(sessionID, event string, payload any, seq int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for _, c := range r.byConn {
		if !c.Watches(sessionID) {
			continue
		}
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("session", sessionID).Msg("event send failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll disconnects everyone, used on shutdown.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.byConn {
		c.Close()
		delete(r.byConn, id)
		r.metrics.ClientConnected(-1)
	}
}
