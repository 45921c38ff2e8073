package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDevModeAllowsAllRequests(t *testing.T) {
	t.Parallel()

	m := New("", "", "", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels", nil)
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenPathBypassesAuth(t *testing.T) {
	t.Parallel()

	m := New("secret", "", "", []string{"/health"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	t.Parallel()

	m := New("secret", "", "", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels", nil)
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidBearerAPIKeyIsAuthorized(t *testing.T) {
	t.Parallel()

	m := New("secret", "", "", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels", nil)
	req.Header.Set("Authorization", "Bearer secret")
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWrongAPIKeyIsUnauthorized(t *testing.T) {
	t.Parallel()

	m := New("secret", "", "", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func signToken(t *testing.T, secret, issuer, subject string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": subject, "iss": issuer, "exp": exp.Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidJWTIsAuthorizedAndSetsClaims(t *testing.T) {
	t.Parallel()

	m := New("", "jwt-secret", "labelcache", nil)
	token := signToken(t, "jwt-secret", "labelcache", "user-1", time.Now().Add(time.Hour))

	var gotClaims *Claims
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	m.Handler(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotClaims)
	require.Equal(t, "user-1", gotClaims.Subject)
}

func TestExpiredJWTIsUnauthorized(t *testing.T) {
	t.Parallel()

	m := New("", "jwt-secret", "labelcache", nil)
	token := signToken(t, "jwt-secret", "labelcache", "user-1", time.Now().Add(-time.Hour))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrongIssuerIsUnauthorized(t *testing.T) {
	t.Parallel()

	m := New("", "jwt-secret", "labelcache", nil)
	token := signToken(t, "jwt-secret", "someone-else", "user-1", time.Now().Add(time.Hour))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyViaQueryParamIsAuthorized(t *testing.T) {
	t.Parallel()

	m := New("secret", "", "", nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels?api_key=secret", nil)
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTViaQueryParamIsUnauthorized(t *testing.T) {
	t.Parallel()

	m := New("", "jwt-secret", "labelcache", nil)
	token := signToken(t, "jwt-secret", "labelcache", "user-1", time.Now().Add(time.Hour))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/labels?api_key="+token, nil)
	m.Handler(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "a JWT passed via the query param must never be validated as a JWT")
}
