package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framecast/internal/auth"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if GetUserFromContext(r.Context()) != nil {
		w.Header().Set("X-User", GetUserFromContext(r.Context()).Username)
	}
	w.WriteHeader(http.StatusOK)
})

func TestCORS(t *testing.T) {
	h := CORS()(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))

	called := false
	h = CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/stream", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.False(t, called)
}

func TestAuthMiddleware(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{Enabled: true, Password: "pw", JWTSecret: "k"})
	require.NoError(t, err)
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	h := AuthMiddleware(a)(okHandler)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		method string
		code   int
	}{
		{"no token", func(*http.Request) {}, "/frame", http.MethodGet, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "/frame", http.MethodGet, http.StatusOK},
		{"bad scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token) }, "/frame", http.MethodGet, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "/frame", http.MethodGet, http.StatusUnauthorized},
		{"query token", func(*http.Request) {}, "/stream?token=" + token, http.MethodGet, http.StatusOK},
		{"preflight", func(*http.Request) {}, "/stream", http.MethodOptions, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK && tt.method == http.MethodGet {
				assert.Equal(t, "admin", rec.Header().Get("X-User"))
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	AuthMiddleware(a)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	AuthMiddleware(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOptionalAuth(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{Enabled: true, Username: "admin", Password: "secret", JWTSecret: "s"})
	require.NoError(t, err)
	token, _, err := a.Authenticate("admin", "secret")
	require.NoError(t, err)

	var user string
	h := OptionalAuth(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = ""
		if claims := GetUserFromContext(r.Context()); claims != nil {
			user = claims.Username
		}
	}))

	for _, tc := range []struct {
		url  string
		want string
	}{
		{"/auth/status", ""},
		{"/auth/status?token=garbage", ""},
		{"/auth/status?token=" + token, "admin"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.url, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tc.want, user, tc.url)
	}
}
