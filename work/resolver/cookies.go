package resolver

import (
	"net/http"
	"strings"
)

// CookieJar accumulates Set-Cookie values across the hops of a single
// resolution. It is an explicit value threaded through the hop chain, never
// shared between resolutions, so concurrent candidates cannot poison each
// other's sessions.
type CookieJar struct {
	order  []string
	values map[string]string
}

// NewCookieJar returns an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{
		values: make(map[string]string),
	}
}

// Absorb folds the response's Set-Cookie headers into the jar. Later values
// win for a repeated name; insertion order is preserved for the header.
func (j *CookieJar) Absorb(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.Name == "" {
			continue
		}
		if _, seen := j.values[c.Name]; !seen {
			j.order = append(j.order, c.Name)
		}
		j.values[c.Name] = c.Value
	}
}

// SetFromHeader seeds the jar from a raw Cookie header value, as stored in
// the session store ("a=1; b=2").
func (j *CookieJar) SetFromHeader(header string) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			continue
		}
		if _, seen := j.values[name]; !seen {
			j.order = append(j.order, name)
		}
		j.values[name] = value
	}
}

// Header renders the jar as a Cookie request header value.
func (j *CookieJar) Header() string {
	if len(j.order) == 0 {
		return ""
	}
	parts := make([]string, 0, len(j.order))
	for _, name := range j.order {
		parts = append(parts, name+"="+j.values[name])
	}
	return strings.Join(parts, "; ")
}

// Len returns the number of distinct cookies held.
func (j *CookieJar) Len() int {
	return len(j.order)
}
