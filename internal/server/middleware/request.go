package middleware

import (
	"context"
	"net/http"
)

// Auth outcomes recorded for the request log.
const (
	AuthDisabled = "disabled"
	AuthPublic   = "public"
	AuthOK       = "ok"
	AuthMissing  = "missing"
	AuthInvalid  = "invalid"
)

// requestInfo is filled in by the inner middleware and read back by
// Logging once the request is done.
type requestInfo struct {
	auth        string
	rateLimited bool
}

type requestInfoKey struct{}

func withRequestInfo(r *http.Request) (*http.Request, *requestInfo) {
	info := &requestInfo{}
	return r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)), info
}

// infoFrom returns the request's info, or a throwaway one when Logging is
// not in the chain.
func infoFrom(r *http.Request) *requestInfo {
	if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}
