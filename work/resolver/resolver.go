// Package resolver walks the bounded chain of HTML documents between an
// entry player page and the real media URL it hides: entry page, optional
// intermediate redirect page, final player page, nested frame. Each hop
// either decrypts an embedded cipher payload, pattern-extracts a direct
// media URL, or finds the next frame to follow.
package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/client"
	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/decoder"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/types"
	"github.com/KEithwy1030/BTHsports.com/work/utils"
)

// maxPageBytes caps how much of a player page is read. These pages are a few
// hundred KB at worst; anything bigger is a junk response.
const maxPageBytes = 2 << 20

// Resolver performs the multi-hop page walk for one candidate at a time.
// It is stateless across calls; all per-resolution state (the cookie jar,
// the referer chain) lives in the call.
type Resolver struct {
	cfg    *config.Config
	client *client.HeaderSettingClient
}

// New builds a Resolver around the shared upstream client.
func New(cfg *config.Config, c *client.HeaderSettingClient) *Resolver {
	return &Resolver{
		cfg:    cfg,
		client: c,
	}
}

// Resolve walks the hop chain starting at pageURL and returns the resolved
// signal. The caller-supplied referer is used for the first hop; each later
// hop carries the previous hop's URL. Failures are typed: ErrNetwork,
// ErrNotFound and ErrFiltered describe why this candidate died, ErrExhausted
// means the hop bound was hit with frames still unfollowed. Retrying with a
// different candidate is the caller's job, never this one's.
func (r *Resolver) Resolve(ctx context.Context, pageURL, referer string) (*types.ResolvedSignal, error) {
	return r.ResolveWithJar(ctx, pageURL, referer, NewCookieJar())
}

// ResolveWithJar is Resolve with a caller-seeded cookie jar, used when a
// refresh should continue an existing upstream session.
func (r *Resolver) ResolveWithJar(ctx context.Context, pageURL, referer string, jar *CookieJar) (*types.ResolvedSignal, error) {
	if referer == "" {
		referer = r.cfg.DefaultReferer
	}

	current := pageURL
	for hop := 0; hop < r.cfg.MaxHops; hop++ {
		body, base, err := r.fetchPage(ctx, current, referer, jar)
		if err != nil {
			return nil, err
		}

		tgt, err := r.extract(body, base)
		if err != nil {
			return nil, err
		}

		if tgt.kind == targetMedia {
			logger.Debug("{resolver/resolver - Resolve} resolved %s after %d hop(s): %s",
				utils.LogURL(r.cfg, pageURL), hop+1, utils.LogURL(r.cfg, tgt.url))
			return &types.ResolvedSignal{
				SourceURL:  current,
				MediaURL:   tgt.url,
				Cookies:    jar.Header(),
				MediaType:  utils.MediaTypeForURL(tgt.url),
				ResolvedAt: time.Now(),
			}, nil
		}

		referer = current
		current = tgt.url
	}

	return nil, fmt.Errorf("%w: hop bound of %d reached walking %s",
		types.ErrExhausted, r.cfg.MaxHops, utils.LogURL(r.cfg, pageURL))
}

// extract applies the hop's extraction strategies in order: cipher payload,
// direct media URL, next frame target. A decryptable payload that filters to
// junk kills the candidate; an undecryptable payload just falls through.
func (r *Resolver) extract(body string, base *url.URL) (target, error) {

	if enc, ok := findCipher(body); ok {
		if p, ok := decoder.Decrypt(enc); ok {
			return r.filterTarget(p.URL, base)
		}
		// undecryptable marker: fall through to pattern extraction
		logger.Debug("{resolver/resolver - extract} cipher marker on %s did not decrypt", base.Host)
	}

	if mediaURL, ok := findMedia(body, base); ok {
		return r.filterTarget(mediaURL, base)
	}

	if frameURL, ok := findFrame(body, base); ok {
		return target{kind: targetFrame, url: frameURL}, nil
	}

	return target{}, fmt.Errorf("%w: nothing extractable at %s", types.ErrNotFound, base.Host)
}

// filterTarget resolves an extracted URL and runs it through the ad/junk
// filter: media passes through, HTML pages become the next hop, denylisted
// URLs kill the candidate.
func (r *Resolver) filterTarget(rawURL string, base *url.URL) (target, error) {
	abs := resolveRef(base, rawURL)

	switch classifyMedia(abs, r.cfg.AdKeywords) {
	case verdictMedia:
		return target{kind: targetMedia, url: abs}, nil
	case verdictPage:
		return target{kind: targetFrame, url: abs}, nil
	default:
		return target{}, fmt.Errorf("%w: %s", types.ErrFiltered, utils.LogURL(r.cfg, abs))
	}
}

// fetchPage GETs one hop, carrying the accumulated cookies and the referer
// chain, and absorbs any Set-Cookie back into the jar. Non-2xx statuses are
// network failures here; the proxy layer has its own verbatim-propagation
// rules, but the resolver only cares whether the page is usable.
func (r *Resolver) fetchPage(ctx context.Context, pageURL, referer string, jar *CookieJar) (string, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad page url %s: %v", types.ErrNetwork, pageURL, err)
	}

	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if cookies := jar.Header(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: fetch %s: %v", types.ErrNetwork, utils.LogURL(r.cfg, pageURL), err)
	}
	defer resp.Body.Close()

	jar.Absorb(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", nil, fmt.Errorf("%w: status %d from %s", types.ErrNetwork, resp.StatusCode, utils.LogURL(r.cfg, pageURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", nil, fmt.Errorf("%w: read %s: %v", types.ErrNetwork, utils.LogURL(r.cfg, pageURL), err)
	}

	return string(body), resp.Request.URL, nil
}
