package websocket

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/pkg/types"
)

func TestAuthenticator_QueryParameters(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{})

	tests := []struct {
		name    string
		query   string
		want    Identity
		wantErr error
	}{
		{name: "userId and displayName", query: "userId=u1&displayName=Ann", want: Identity{UserID: "u1", DisplayName: "Ann"}},
		{name: "username alias", query: "userId=u1&username=Ann", want: Identity{UserID: "u1", DisplayName: "Ann"}},
		{name: "displayName trimmed", query: "userId=u1&displayName=%20Ann%20", want: Identity{UserID: "u1", DisplayName: "Ann"}},
		{name: "missing everything", query: "", wantErr: ErrMissingCredentials},
		{name: "missing displayName", query: "userId=u1", wantErr: ErrMissingCredentials},
		{name: "missing userId", query: "displayName=Ann", wantErr: ErrMissingCredentials},
		{name: "invalid userId", query: "userId=u%201&displayName=Ann", wantErr: ErrInvalidCredentials},
		{name: "blank displayName", query: "userId=u1&displayName=%20%20", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws?"+tt.query, nil)
			got, err := auth.Authenticate(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, types.ErrAuthentication)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticator_TokenRoundTrip(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{JWTSecret: "test-secret", Issuer: "studyroom", TokenTTL: time.Minute})

	token, err := auth.IssueToken(Identity{UserID: "u1", DisplayName: "Ann"})
	require.NoError(t, err)

	// Query parameter
	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	got, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", DisplayName: "Ann"}, got)

	// Bearer header
	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	got, err = auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestAuthenticator_TokenTakesPrecedenceOverQuery(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{JWTSecret: "test-secret"})
	token, err := auth.IssueToken(Identity{UserID: "u1", DisplayName: "Ann"})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/ws?userId=u2&displayName=Mallory&token="+token, nil)
	got, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestAuthenticator_RejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{JWTSecret: "test-secret"})
	other := NewAuthenticator(AuthConfig{JWTSecret: "other-secret"})

	foreign, err := other.IssueToken(Identity{UserID: "u1", DisplayName: "Ann"})
	require.NoError(t, err)

	expiredClaims := Claims{
		UserID:      "u1",
		DisplayName: "Ann",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "garbage", token: "not-a-token", wantErr: ErrInvalidToken},
		{name: "wrong secret", token: foreign, wantErr: ErrInvalidToken},
		{name: "expired", token: expired, wantErr: ErrExpiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws?token="+tt.token, nil)
			_, err := auth.Authenticate(req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, types.ErrAuthentication)
		})
	}
}

func TestAuthenticator_RequireToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{JWTSecret: "test-secret", RequireToken: true})

	req := httptest.NewRequest("GET", "/ws?userId=u1&displayName=Ann", nil)
	_, err := auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestAuthenticator_IssueTokenWithoutSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{}).IssueToken(Identity{UserID: "u1", DisplayName: "Ann"})
	assert.ErrorIs(t, err, ErrTokenRequired)
}
