package httpapi

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// originPolicy decides which browser origins may call /v1. Requests with
// no Origin header come from non-browser clients and are always allowed.
// Without a JWT secret only same-host and listed origins pass, since a
// page on any other site could otherwise drive the tools through the
// user's browser.
type originPolicy struct {
	allowed       []string
	authenticated bool
}

func newOriginPolicy(allowed []string, authenticated bool) originPolicy {
	norm := make([]string, 0, len(allowed))
	for _, o := range allowed {
		norm = append(norm, strings.ToLower(strings.TrimRight(o, "/")))
	}
	return originPolicy{allowed: norm, authenticated: authenticated}
}

func (p originPolicy) allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.authenticated {
		return true
	}
	if slices.Contains(p.allowed, "*") || slices.Contains(p.allowed, strings.ToLower(origin)) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// middleware rejects cross-origin requests the policy does not allow.
func (p originPolicy) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.allow(r) {
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}
