// Package authmw implements the dual authentication scheme from
// spec.md §6: a static bearer token compared in constant time, and a
// signed JWT with required claims, grounded on marmos91-dittofs's
// middleware.JWTAuth for the bearer-extraction/context-claims shape.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
)

type contextKey string

const claimsContextKey contextKey = "labelcache_claims"

// Claims holds the subset of JWT claims spec.md §6 requires.
type Claims struct {
	Subject string
	Issuer  string
}

// ClaimsFromContext returns the authenticated claims, if the request
// was authenticated via JWT. Returns nil for static-token or dev-mode
// requests.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// Middleware enforces spec.md §6's auth scheme: static bearer token
// OR signed JWT, either configurable independently; if neither
// apiKey nor jwtSecret is set, the server is in dev mode and
// authorizes every request. openPaths bypass auth entirely.
type Middleware struct {
	apiKey    string
	jwtSecret string
	jwtIssuer string
	openPaths map[string]struct{}
}

// New builds a Middleware from the configured credentials and
// auth-bypass path list.
func New(apiKey, jwtSecret, jwtIssuer string, openPaths []string) *Middleware {
	set := make(map[string]struct{}, len(openPaths))
	for _, p := range openPaths {
		set[p] = struct{}{}
	}
	return &Middleware{apiKey: apiKey, jwtSecret: jwtSecret, jwtIssuer: jwtIssuer, openPaths: set}
}

// devMode reports whether no credential scheme is configured.
func (m *Middleware) devMode() bool {
	return m.apiKey == "" && m.jwtSecret == ""
}

// Handler wraps next with the auth check.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.openPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		if m.devMode() {
			next.ServeHTTP(w, r)
			return
		}

		token, viaQueryParam := extractToken(r)
		if token == "" {
			writeUnauthorized(w)
			return
		}

		if m.apiKey != "" && constantTimeEqual(token, m.apiKey) {
			next.ServeHTTP(w, r)
			return
		}

		// The query-param fallback carries only the static API key
		// (spec.md §9); a token presented that way is never run through
		// JWT validation, matching the original's separate token_param
		// check that never touches pyjwt.decode.
		if m.jwtSecret != "" && !viaQueryParam {
			claims, err := m.validateJWT(token)
			if err == nil {
				ctx := context.WithValue(r.Context(), claimsContextKey, claims)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		writeUnauthorized(w)
	})
}

// extractToken returns the bearer credential and whether it arrived via
// the "?api_key=" query parameter rather than the Authorization header.
func extractToken(r *http.Request) (token string, viaQueryParam bool) {
	header := r.Header.Get("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1], false
	}
	return r.URL.Query().Get("api_key"), true
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (m *Middleware) validateJWT(tokenString string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, cacheerr.ErrUnauthorized
		}
		return []byte(m.jwtSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithIssuer(m.jwtIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, cacheerr.ErrUnauthorized
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, cacheerr.ErrUnauthorized
	}
	iss, _ := claims["iss"].(string)

	return &Claims{Subject: sub, Issuer: iss}, nil
}

func writeUnauthorized(w http.ResponseWriter) {
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
