package wsobserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthAuthorizationHeader(t *testing.T) {
	auth := NewJWTAuth("secret")
	token, err := auth.GenerateToken("user-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/stream", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	userID, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestJWTAuthQueryParam(t *testing.T) {
	auth := NewJWTAuth("secret")
	token, err := auth.GenerateToken("user-2", time.Now().Add(time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil)
	userID, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-2", userID)
}

func TestJWTAuthSecWebSocketProtocol(t *testing.T) {
	auth := NewJWTAuth("secret")
	token, err := auth.GenerateToken("user-3", time.Now().Add(time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/stream", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "json, auth-"+token)

	userID, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-3", userID)
}

func TestJWTAuthMissingTokenFails(t *testing.T) {
	auth := NewJWTAuth("secret")
	r := httptest.NewRequest(http.MethodGet, "/stream", nil)
	_, err := auth.Authenticate(r)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestJWTAuthExpiredTokenFails(t *testing.T) {
	auth := NewJWTAuth("secret")
	token, err := auth.GenerateToken("user-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/stream?token="+token, nil)
	_, err = auth.Authenticate(r)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTAuthWrongSecretFails(t *testing.T) {
	signed, err := NewJWTAuth("secret-a").GenerateToken("user-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/stream?token="+signed, nil)
	_, err = NewJWTAuth("secret-b").Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNoAuthUsesQueryParamOrAnonymous(t *testing.T) {
	auth := NewNoAuth()

	r := httptest.NewRequest(http.MethodGet, "/stream", nil)
	userID, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", userID)

	r2 := httptest.NewRequest(http.MethodGet, "/stream?user_id=bob", nil)
	userID2, err := auth.Authenticate(r2)
	require.NoError(t, err)
	assert.Equal(t, "bob", userID2)
}
