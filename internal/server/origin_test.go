package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/tcpchat/internal/logging"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"https://Chat.Example.com", " ", "garbage"}, logging.Discard())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin header", "", true},
		{"exact match", "https://chat.example.com", true},
		{"case-insensitive", "HTTPS://CHAT.EXAMPLE.COM", true},
		{"different scheme", "http://chat.example.com", false},
		{"different port", "https://chat.example.com:8443", false},
		{"unlisted", "https://evil.example.com", false},
		{"malformed", "not-a-url", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, policy.checkOrigin(req))
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, logging.Discard())

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	assert.True(t, policy.isAllowed(req))
}

func TestNormalizeOrigins(t *testing.T) {
	got, allowAll := normalizeOrigins([]string{"HTTP://A.example", "", "bad", "*"}, logging.Discard())
	assert.True(t, allowAll)
	assert.Equal(t, []string{"http://a.example"}, got)

	got, allowAll = normalizeOrigins(nil, logging.Discard())
	assert.False(t, allowAll)
	assert.Empty(t, got)
}
