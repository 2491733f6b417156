package websocket

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy_Check(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "empty allowlist admits all", allowed: nil, origin: "https://evil.example", want: true},
		{name: "wildcard admits all", allowed: []string{"*"}, origin: "https://evil.example", want: true},
		{name: "exact match", allowed: []string{"https://app.example"}, origin: "https://app.example", want: true},
		{name: "case and path normalized", allowed: []string{"HTTPS://App.Example/login"}, origin: "https://app.example", want: true},
		{name: "different host", allowed: []string{"https://app.example"}, origin: "https://evil.example", want: false},
		{name: "different scheme", allowed: []string{"https://app.example"}, origin: "http://app.example", want: false},
		{name: "no origin header", allowed: []string{"https://app.example"}, origin: "", want: true},
		{name: "invalid entries ignored", allowed: []string{"not an origin", "https://app.example"}, origin: "https://app.example", want: true},
		{name: "malformed request origin", allowed: []string{"https://app.example"}, origin: "app.example", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewOriginPolicy(tt.allowed, nil)
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.Check(req))
		})
	}
}
