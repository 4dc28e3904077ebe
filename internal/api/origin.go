package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// originAllowed matches origin against patterns such as
// "https://*.example.com". An empty pattern list allows only same-host
// requests.
func originAllowed(patterns []string, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	if len(patterns) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}

	origin = strings.ToLower(origin)
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if pattern == "*" || wildcard.Match(pattern, origin) {
			return true
		}
	}
	return false
}
