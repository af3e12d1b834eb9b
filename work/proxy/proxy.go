// Package proxy serves rewritten HLS manifests and raw media segments so a
// player never talks to the unstable upstream directly. Manifests are cached
// briefly (live playlists roll over every few seconds), segments for much
// longer (immutable once published). Token expiry is the dominant upstream
// failure, so a 403/404 on a manifest with a known stream id triggers one
// re-resolution before the error is passed through.
package proxy

import (
	"io"
	"net/http"
	"net/url"

	"github.com/KEithwy1030/BTHsports.com/work/cache"
	"github.com/KEithwy1030/BTHsports.com/work/client"
	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/engine"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/metrics"
	"github.com/KEithwy1030/BTHsports.com/work/probe"
	"github.com/KEithwy1030/BTHsports.com/work/session"
	"github.com/KEithwy1030/BTHsports.com/work/utils"

	"github.com/valyala/bytebufferpool"
)

const (
	manifestContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
)

// StreamProxy is the manifest/segment proxy.
type StreamProxy struct {
	Config    *config.Config
	Client    *client.HeaderSettingClient
	Manifests *cache.ByteCache
	Segments  *cache.ByteCache
	Engine    *engine.Engine
}

// New wires the proxy with its two caches and the engine used for
// re-resolution.
func New(cfg *config.Config, c *client.HeaderSettingClient, manifests, segments *cache.ByteCache,
	eng *engine.Engine) *StreamProxy {
	return &StreamProxy{
		Config:    cfg,
		Client:    c,
		Manifests: manifests,
		Segments:  segments,
		Engine:    eng,
	}
}

// upstreamResult is one upstream fetch, fully read.
type upstreamResult struct {
	status      int
	body        []byte
	contentType string
	finalURL    *url.URL
}

// HandleManifest serves GET /proxy/manifest: fetch the target playlist,
// rewrite every URI through the proxy and cache the result keyed by
// (url, session, referer).
func (sp *StreamProxy) HandleManifest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	sessionTok := q.Get("session")
	refererTok := q.Get("referer")
	streamID := q.Get("streamId")

	cacheKey := "manifest|" + target + "|" + sessionTok + "|" + refererTok
	if entry, ok := sp.Manifests.Get(cacheKey); ok {
		metrics.CacheEvents.WithLabelValues("manifest", "hit").Inc()
		sp.writeEntry(w, entry, "manifest")
		return
	}
	metrics.CacheEvents.WithLabelValues("manifest", "miss").Inc()

	cookies := session.DecodeToken(sessionTok)
	referer := session.DecodeToken(refererTok)

	res, err := sp.fetchUpstream(r, target, cookies, referer)
	if err != nil {
		logger.Error("{proxy/proxy - HandleManifest} upstream fetch failed for %s: %v", utils.LogURL(sp.Config, target), err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}

	// expired token: one re-resolution, then retry the freshly minted URL.
	// The token lives in the URL's query, so retrying the stale target with
	// new cookies alone can never recover.
	if (res.status == http.StatusForbidden || res.status == http.StatusNotFound) && streamID != "" {
		logger.Info("{proxy/proxy - HandleManifest} status %d for stream %s, re-resolving", res.status, streamID)
		if fresh, refreshErr := sp.Engine.RefreshStream(r.Context(), streamID); refreshErr == nil {
			target = fresh.MediaURL
			cookies = fresh.Cookies
			sessionTok = session.EncodeToken(fresh.Cookies)
			if retry, err := sp.fetchUpstream(r, target, cookies, referer); err == nil {
				res = retry
			}
		} else {
			logger.Warn("{proxy/proxy - HandleManifest} re-resolution of stream %s failed: %v", streamID, refreshErr)
		}
	}

	if res.status < 200 || res.status >= 300 {
		sp.propagate(w, res)
		return
	}

	rewritten := RewriteManifest(res.body, res.finalURL, streamID, sessionTok, refererTok)
	entry := cache.Entry{Body: rewritten, ContentType: manifestContentType}
	sp.Manifests.Set(cacheKey, entry)
	sp.writeEntry(w, entry, "manifest")
}

// HandleSegment serves GET /proxy/segment: raw media bytes, or a recursively
// rewritten sub-manifest when the target turns out to be a playlist (nested
// variant lists arrive through this endpoint too).
func (sp *StreamProxy) HandleSegment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	sessionTok := q.Get("session")
	refererTok := q.Get("referer")
	streamID := q.Get("streamId")

	cacheKey := "segment|" + target + "|" + sessionTok + "|" + refererTok
	if entry, ok := sp.Segments.Get(cacheKey); ok {
		metrics.CacheEvents.WithLabelValues("segment", "hit").Inc()
		sp.writeEntry(w, entry, "segment")
		return
	}
	if entry, ok := sp.Manifests.Get(cacheKey); ok {
		metrics.CacheEvents.WithLabelValues("segment", "hit").Inc()
		sp.writeEntry(w, entry, "manifest")
		return
	}
	metrics.CacheEvents.WithLabelValues("segment", "miss").Inc()

	res, err := sp.fetchUpstream(r, target, session.DecodeToken(sessionTok), session.DecodeToken(refererTok))
	if err != nil {
		logger.Error("{proxy/proxy - HandleSegment} upstream fetch failed for %s: %v", utils.LogURL(sp.Config, target), err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	if res.status < 200 || res.status >= 300 {
		sp.propagate(w, res)
		return
	}

	// a "segment" that is actually a playlist gets the manifest treatment,
	// cached under the short TTL since its content rolls over
	if probe.IsManifest(res.contentType, res.body) {
		rewritten := RewriteManifest(res.body, res.finalURL, streamID, sessionTok, refererTok)
		entry := cache.Entry{Body: rewritten, ContentType: manifestContentType}
		sp.Manifests.Set(cacheKey, entry)
		sp.writeEntry(w, entry, "manifest")
		return
	}

	contentType := res.contentType
	if contentType == "" {
		contentType = segmentContentType
	}
	entry := cache.Entry{Body: res.body, ContentType: contentType}
	sp.Segments.Set(cacheKey, entry)
	sp.writeEntry(w, entry, "segment")
}

// fetchUpstream GETs the target, trying each header profile in order until
// one answers 2xx. The last non-2xx response is kept for verbatim
// propagation; an error means no profile got a response at all.
func (sp *StreamProxy) fetchUpstream(r *http.Request, target, cookies, referer string) (*upstreamResult, error) {
	if referer == "" && sp.Config.ForceReferer {
		referer = sp.Config.DefaultReferer
	}

	var last *upstreamResult
	var lastErr error

	for _, profile := range sp.Client.Profiles() {
		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		if cookies != "" {
			req.Header.Set("Cookie", cookies)
		}
		if referer != "" {
			req.Header.Set("Referer", referer)
		}

		resp, err := sp.Client.DoWithProfile(req, profile)
		if err != nil {
			lastErr = err
			continue
		}

		res, err := readResult(resp)
		if err != nil {
			lastErr = err
			continue
		}
		last = res
		if res.status >= 200 && res.status < 300 {
			return res, nil
		}
	}

	if last != nil {
		return last, nil
	}
	return nil, lastErr
}

// readResult drains a response through a pooled buffer and closes it.
func readResult(resp *http.Response) (*upstreamResult, error) {
	defer resp.Body.Close()

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	if _, err := io.Copy(bb, resp.Body); err != nil {
		return nil, err
	}

	body := make([]byte, len(bb.B))
	copy(body, bb.B)

	return &upstreamResult{
		status:      resp.StatusCode,
		body:        body,
		contentType: resp.Header.Get("Content-Type"),
		finalURL:    resp.Request.URL,
	}, nil
}

// propagate passes an upstream error status and body through to the client
// verbatim.
func (sp *StreamProxy) propagate(w http.ResponseWriter, res *upstreamResult) {
	if res.contentType != "" {
		w.Header().Set("Content-Type", res.contentType)
	}
	w.WriteHeader(res.status)
	w.Write(res.body)
}

// writeEntry serves a cache entry and counts the bytes.
func (sp *StreamProxy) writeEntry(w http.ResponseWriter, entry cache.Entry, kind string) {
	w.Header().Set("Content-Type", entry.ContentType)
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(entry.Body)
	metrics.ProxyBytes.WithLabelValues(kind).Add(float64(n))
}
