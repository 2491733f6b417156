package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// OriginPolicy decides which browser origins may open a socket.
// An empty allowlist or "*" admits every origin. Requests without an
// Origin header come from non-browser clients and are admitted.
type OriginPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	logger   logrus.FieldLogger
}

// NewOriginPolicy normalizes the configured origins, ignoring invalid entries
func NewOriginPolicy(origins []string, logger logrus.FieldLogger) *OriginPolicy {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	normalized, allowAll := normalizeOrigins(origins, logger)
	p := &OriginPolicy{
		allowed:  make(map[string]struct{}, len(normalized)),
		allowAll: allowAll || len(normalized) == 0,
		logger:   logger,
	}
	for _, o := range normalized {
		p.allowed[o] = struct{}{}
	}
	return p
}

// Check is suitable as a gorilla Upgrader.CheckOrigin
func (p *OriginPolicy) Check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}

	origin, ok := normalizeOrigin(header)
	if ok {
		if _, exists := p.allowed[origin]; exists {
			return true
		}
	}

	p.logger.WithField("origin", header).Warn("Blocked WebSocket connection from disallowed origin")
	return false
}

func normalizeOrigins(origins []string, logger logrus.FieldLogger) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		o, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.WithField("origin", origin).Warn("Ignoring invalid origin in configuration")
			continue
		}
		normalized = append(normalized, o)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
