package realtime

import (
	"net/url"
)

var localHostnames = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
}

// BuildURL derives the realtime endpoint from the page (or API base) URL.
// devHost replaces the host only when the page is served from a local
// development hostname.
func BuildURL(page *url.URL, devHost string, token string) string {
	scheme := "ws"
	if page.Scheme == "https" || page.Scheme == "wss" {
		scheme = "wss"
	}

	host := page.Host
	if _, local := localHostnames[page.Hostname()]; local && devHost != "" {
		host = devHost
	}

	query := url.Values{}
	query.Set("token", token)

	endpoint := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/ws",
		RawQuery: query.Encode(),
	}

	return endpoint.String()
}
