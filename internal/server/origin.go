package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// OriginChecker restricts the browsers allowed to open websocket
// connections. With no allowed origins only same-host requests pass.
type OriginChecker struct {
	allowedOrigins []string
}

func NewOriginChecker(allowedOrigins ...string) *OriginChecker {
	return &OriginChecker{
		allowedOrigins,
	}
}

func (c *OriginChecker) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if slices.Contains(c.allowedOrigins, "*") || slices.Contains(c.allowedOrigins, origin) {
		return true
	}

	if len(c.allowedOrigins) > 0 {
		return false
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return strings.EqualFold(u.Host, r.Host)
}
