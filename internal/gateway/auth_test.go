package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/askbot/internal/config"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.False(t, safeEqual("secret", "Secret"))
	assert.False(t, safeEqual("short", "much-longer"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("", "x"))
}

func TestResolveAuth(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{Token: "  tok  "})
	assert.Equal(t, AuthModeToken, auth.Mode)
	assert.Equal(t, "tok", auth.Token)

	auth = ResolveAuth(config.GatewayAuth{})
	assert.Equal(t, AuthModeNone, auth.Mode)
	assert.Empty(t, auth.Token)
}

func TestAuthorize(t *testing.T) {
	server := ResolvedAuth{Mode: AuthModeToken, Token: "tok"}

	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		reason string
	}{
		{"match", server, &ConnectAuth{Token: "tok"}, true, ""},
		{"mismatch", server, &ConnectAuth{Token: "nope"}, false, "token_mismatch"},
		{"empty", server, &ConnectAuth{}, false, "token required"},
		{"nil", server, nil, false, "token required"},
		{"none mode", ResolvedAuth{Mode: AuthModeNone}, nil, true, ""},
		{"unknown mode", ResolvedAuth{Mode: "magic"}, &ConnectAuth{Token: "tok"}, false, "unknown auth mode: magic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestAuthorizeRequest(t *testing.T) {
	server := ResolvedAuth{Mode: AuthModeToken, Token: "tok"}

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	assert.False(t, AuthorizeRequest(server, req).OK)

	req.Header.Set("Authorization", "Bearer tok")
	assert.True(t, AuthorizeRequest(server, req).OK)

	req.Header.Set("Authorization", "bearer tok")
	assert.True(t, AuthorizeRequest(server, req).OK)

	req.Header.Set("Authorization", "Basic dG9rOg==")
	assert.False(t, AuthorizeRequest(server, req).OK)
}

func originRequest(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"empty allow list", nil, "http://evil.example", false},
		{"wildcard", []string{"*"}, "http://any.example", true},
		{"listed", []string{"http://app.example"}, "http://app.example", true},
		{"not listed", []string{"http://app.example"}, "http://evil.example", false},
		{"second of many", []string{"http://a.example", "http://b.example"}, "http://b.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkWebSocketOrigin(tt.allowed)(originRequest(tt.origin)))
		})
	}
}
