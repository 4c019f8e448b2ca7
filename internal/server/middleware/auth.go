package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the routes under the protected path prefixes with apiKey,
// sent as "Authorization: Bearer <key>" or "X-API-Key". WebSocket upgrades
// may pass it as ?api_key= since browsers cannot set headers on them.
// Other paths stay public. An empty apiKey disables the check.
func Auth(apiKey string, protected ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := infoFrom(r)
			switch {
			case apiKey == "":
				info.auth = AuthDisabled
			case !isProtected(r.URL.Path, protected):
				info.auth = AuthPublic
			default:
				token := extractToken(r)
				if token == "" {
					info.auth = AuthMissing
					writeUnauthorized(w, "missing authentication token")
					return
				}
				if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
					info.auth = AuthInvalid
					writeUnauthorized(w, "invalid authentication token")
					return
				}
				info.auth = AuthOK
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isProtected(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// extractToken reads the Bearer token, the X-API-Key header or, for
// WebSocket upgrades only, the api_key query parameter.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="dexarb"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
