package middlewarectx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/community-billing/internal/lib/jwt"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserIDFromContext(r.Context())
		require.True(t, ok)
		role, _ := r.Context().Value(Role).(string)
		_, err := w.Write([]byte(id + ":" + role))
		require.NoError(t, err)
	})
}

func TestJWTMiddleware(t *testing.T) {
	maker := jwt.NewJWTMaker("secret", time.Hour)
	valid, err := maker.GenerateToken("u-1", "admin")
	require.NoError(t, err)
	foreign, err := jwt.NewJWTMaker("other", time.Hour).GenerateToken("u-1", "admin")
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "valid token", header: "Bearer " + valid, wantStatus: http.StatusOK, wantBody: "u-1:admin"},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantBody: "missing or invalid authorization header"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantBody: "missing or invalid authorization header"},
		{name: "foreign signature", header: "Bearer " + foreign, wantStatus: http.StatusUnauthorized, wantBody: "invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			JWTMiddleware(maker, newNoopLogger())(echoUser(t)).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRequireRole(t *testing.T) {
	maker := jwt.NewJWTMaker("secret", time.Hour)
	handler := JWTMiddleware(maker, newNoopLogger())(
		RequireRole("superadmin", newNoopLogger())(echoUser(t)))

	for role, want := range map[string]int{
		"superadmin": http.StatusOK,
		"admin":      http.StatusForbidden,
		"user":       http.StatusForbidden,
	} {
		t.Run(role, func(t *testing.T) {
			token, err := maker.GenerateToken("u-1", role)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)
			assert.Equal(t, want, w.Code)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allows requests within limit", func(t *testing.T) {
		handler := RateLimitMiddleware(rate.NewLimiter(10, 10), newNoopLogger())(ok)
		for range 10 {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		handler := RateLimitMiddleware(rate.NewLimiter(rate.Every(time.Hour), 1), newNoopLogger())(ok)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "too many requests")
	})
}
