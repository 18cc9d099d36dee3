package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
	"sitecheck/pkg/requestcontext"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService("test-signing-key", "sitecheck-test")
	userID := id.UserID(uuid.New())

	token, err := svc.GenerateToken(userID, time.Hour)
	require.NoError(t, err)

	resolved, err := svc.ResolveToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, resolved)
}

func TestTokenService_RejectsBadTokens(t *testing.T) {
	svc := NewTokenService("test-signing-key", "sitecheck-test")

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.ResolveToken("not-a-jwt")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := svc.GenerateToken(id.UserID(uuid.New()), -time.Minute)
		require.NoError(t, err)
		_, err = svc.ResolveToken(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewTokenService("other-key", "sitecheck-test")
		token, err := other.GenerateToken(id.UserID(uuid.New()), time.Hour)
		require.NoError(t, err)
		_, err = svc.ResolveToken(token)
		require.Error(t, err)
	})
}

func TestRequireAuth(t *testing.T) {
	svc := NewTokenService("test-signing-key", "sitecheck-test")
	userID := id.UserID(uuid.New())

	var seenUserID id.UserID
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = requestcontext.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAuth(svc, testLogger())(inner)

	t.Run("missing header is 401 before any work", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/audits/claim", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token resolves user", func(t *testing.T) {
		token, err := svc.GenerateToken(userID, time.Hour)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodPost, "/audits/claim", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, userID, seenUserID)
	})
}

func TestOptionalAuth(t *testing.T) {
	svc := NewTokenService("test-signing-key", "sitecheck-test")

	var seenUserID id.UserID
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = requestcontext.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := OptionalAuth(svc, testLogger())(inner)

	t.Run("anonymous passes through", func(t *testing.T) {
		seenUserID = id.UserID{}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/audits", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, seenUserID.IsNil())
	})

	t.Run("invalid token is rejected, not demoted to anonymous", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/audits", nil)
		r.Header.Set("Authorization", "Bearer bogus")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
