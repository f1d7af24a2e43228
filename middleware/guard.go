package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	gmpAuth "github.com/MrEthical07/gmpAuth"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims Guard validated for this request.
func ClaimsFromContext(ctx context.Context) (*gmpAuth.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*gmpAuth.AccessClaims)
	return claims, ok && claims != nil
}

// Guard rejects requests without a live bearer access token. On success the
// claims and the caller's address are attached to the request context.
func Guard(engine *gmpAuth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := withRemoteIP(r)
			claims, err := engine.ParseToken(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP attaches the caller's address for handlers that run before a
// token exists, such as login.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withRemoteIP(r)))
	})
}

func withRemoteIP(r *http.Request) context.Context {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return r.Context()
	}
	return gmpAuth.WithClientIP(r.Context(), host)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
