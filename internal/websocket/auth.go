package websocket

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studyroom/pkg/types"
)

// Identity is the user bound to a connection for its whole lifetime
type Identity struct {
	UserID      string
	DisplayName string
}

// AuthConfig holds handshake authentication settings
type AuthConfig struct {
	JWTSecret    string
	Issuer       string
	TokenTTL     time.Duration
	RequireToken bool
}

// Claims carried by gateway tokens
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Authenticator extracts an Identity from the upgrade request
type Authenticator struct {
	config AuthConfig
}

func NewAuthenticator(config AuthConfig) *Authenticator {
	return &Authenticator{config: config}
}

// Authenticate accepts a signed token (query "token" or a Bearer header) when a
// secret is configured, and otherwise plain userId/displayName query parameters
// unless tokens are required. "username" is accepted for displayName.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	if token := bearerToken(r); token != "" {
		return a.validateToken(token)
	}
	if a.config.RequireToken {
		return Identity{}, ErrTokenRequired
	}

	q := r.URL.Query()
	userID := q.Get("userId")
	displayName := q.Get("displayName")
	if displayName == "" {
		displayName = q.Get("username")
	}
	if userID == "" || displayName == "" {
		return Identity{}, ErrMissingCredentials
	}
	return validIdentity(userID, displayName)
}

// IssueToken signs a gateway token for identity
func (a *Authenticator) IssueToken(identity Identity) (string, error) {
	if a.config.JWTSecret == "" {
		return "", ErrTokenRequired
	}
	now := time.Now()
	ttl := a.config.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.JWTSecret))
}

func (a *Authenticator) validateToken(raw string) (Identity, error) {
	if a.config.JWTSecret == "" {
		return Identity{}, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if a.config.Issuer != "" && claims.Issuer != a.config.Issuer {
		return Identity{}, ErrInvalidToken
	}
	return validIdentity(claims.UserID, claims.DisplayName)
}

func validIdentity(userID, displayName string) (Identity, error) {
	if !types.IsValidUserID(userID) || !types.IsValidDisplayName(displayName) {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{UserID: userID, DisplayName: strings.TrimSpace(displayName)}, nil
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
