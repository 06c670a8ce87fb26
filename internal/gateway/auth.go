package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/soyeahso/askbot/internal/config"
)

// Auth modes.
const (
	AuthModeToken = "token"
	AuthModeNone  = "none"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Mode  string
	Token string
}

// ResolveAuth resolves the gateway credentials. Without a token the admin
// routes and the WebSocket are open.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return ResolvedAuth{Mode: AuthModeNone}
	}
	return ResolvedAuth{Mode: AuthModeToken, Token: token}
}

// Authorize checks WebSocket connect credentials against the server auth.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	switch serverAuth.Mode {
	case AuthModeNone:
		return AuthResult{OK: true, Method: AuthModeNone}
	case AuthModeToken:
		if clientAuth == nil || clientAuth.Token == "" {
			return AuthResult{OK: false, Reason: "token required"}
		}
		if !safeEqual(clientAuth.Token, serverAuth.Token) {
			return AuthResult{OK: false, Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthModeToken}
	default:
		return AuthResult{OK: false, Reason: "unknown auth mode: " + serverAuth.Mode}
	}
}

// AuthorizeRequest checks the bearer token of an HTTP request.
func AuthorizeRequest(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	var clientAuth *ConnectAuth
	if tok := bearerToken(r); tok != "" {
		clientAuth = &ConnectAuth{Token: tok}
	}
	return Authorize(serverAuth, clientAuth)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// safeEqual performs a constant-time string comparison.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
