package client

import (
	"net/http"
	"sync"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/config"

	"go.uber.org/ratelimit"
)

// Profile is one upstream header identity. The resolver and proxy try the
// desktop profile first and fall back to the mobile one, since some mirrors
// only answer one of the two.
type Profile struct {
	UserAgent string
	Accept    string
}

// HeaderSettingClient wraps http.Client to automatically set headers and to
// rate-limit requests per upstream host.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config

	limiterMu sync.Mutex
	limiters  map[string]ratelimit.Limiter
}

// CustomResponseWriter wraps http.ResponseWriter to track headers and implement Flusher
type CustomResponseWriter struct {
	http.ResponseWriter
	WroteHeader bool
	statusCode  int
}

// NewHeaderSettingClient builds the shared upstream client. Redirects are
// followed (player pages bounce through them), cookies are handled by the
// callers' explicit jars, and only response headers carry a hard timeout so
// long segment bodies can still stream.
func NewHeaderSettingClient(config *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: config.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client:   client,
		config:   config,
		limiters: make(map[string]ratelimit.Limiter),
	}
}

// Profiles returns the header identities to try, in order.
func (hsc *HeaderSettingClient) Profiles() []Profile {
	return []Profile{
		{UserAgent: hsc.config.UserAgent, Accept: "*/*"},
		{UserAgent: hsc.config.MobileUserAgent, Accept: "*/*"},
	}
}

// Do sends the request with the default (desktop) profile applied.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	return hsc.DoWithProfile(req, hsc.Profiles()[0])
}

// DoWithProfile sends the request with the given header profile, taking a
// per-host rate limit slot first so bursts against one mirror are smoothed.
func (hsc *HeaderSettingClient) DoWithProfile(req *http.Request, profile Profile) (*http.Response, error) {
	hsc.limiterFor(req.URL.Host).Take()
	hsc.setHeaders(req, profile)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request, profile Profile) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", profile.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", profile.Accept)
	}
	req.Header.Set("Connection", "keep-alive")
}

// limiterFor lazily creates the rate limiter for one upstream host.
func (hsc *HeaderSettingClient) limiterFor(host string) ratelimit.Limiter {
	hsc.limiterMu.Lock()
	defer hsc.limiterMu.Unlock()

	if rl, ok := hsc.limiters[host]; ok {
		return rl
	}
	rl := ratelimit.New(hsc.config.RequestsPerSecond)
	hsc.limiters[host] = rl
	return rl
}

// CustomResponseWriter implementation
func NewCustomResponseWriter(w http.ResponseWriter) *CustomResponseWriter {
	return &CustomResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

func (crw *CustomResponseWriter) WriteHeader(statusCode int) {
	if crw.WroteHeader {
		return
	}

	// Set default headers
	crw.Header().Set("Connection", "keep-alive")
	crw.Header().Set("Cache-Control", "no-cache")

	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
	crw.WroteHeader = true
}

func (crw *CustomResponseWriter) Write(b []byte) (int, error) {
	if !crw.WroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	return crw.ResponseWriter.Write(b)
}

// Implement http.Flusher interface
func (crw *CustomResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
