package ranker

import (
	"context"
	"net/http"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/client"
	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
)

// probeCacheTTL bounds how often one mirror gets re-probed. Mirrors flap on
// the order of hours, not seconds, and probing on every request would double
// upstream traffic.
const probeCacheTTL = 5 * time.Minute

type probeResult struct {
	ok      bool
	expires time.Time
}

// HealthChecker performs cheap HEAD reachability probes against entry
// mirrors, caching each verdict for a few minutes.
type HealthChecker struct {
	client  *client.HeaderSettingClient
	results *xsync.MapOf[string, probeResult]
}

// NewHealthChecker builds a checker around the shared upstream client.
func NewHealthChecker(c *client.HeaderSettingClient) *HealthChecker {
	return &HealthChecker{
		client:  c,
		results: xsync.NewMapOf[string, probeResult](),
	}
}

// Reachable reports whether a mirror answers at all. Any HTTP status counts
// as reachable; only transport-level failures mark a mirror down, since the
// entry pages themselves regularly return odd statuses that still play.
func (hc *HealthChecker) Reachable(ctx context.Context, domainURL string) bool {
	host := utils.HostOf(domainURL)
	if cached, ok := hc.results.Load(host); ok && time.Now().Before(cached.expires) {
		return cached.ok
	}

	ok := hc.probe(ctx, domainURL)
	hc.results.Store(host, probeResult{ok: ok, expires: time.Now().Add(probeCacheTTL)})
	return ok
}

// Filter keeps only the mirrors that currently answer probes. When every
// probe fails the original list comes back unchanged: a cold DNS blip must
// not wipe out the whole fan-out.
func (hc *HealthChecker) Filter(ctx context.Context, domains []config.EntryDomain) []config.EntryDomain {
	var up []config.EntryDomain
	for _, d := range domains {
		if hc.Reachable(ctx, d.URL) {
			up = append(up, d)
		}
	}
	if len(up) == 0 {
		return domains
	}
	return up
}

func (hc *HealthChecker) probe(ctx context.Context, domainURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, domainURL+"/", nil)
	if err != nil {
		return false
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		logger.Debug("{ranker/health - probe} mirror %s unreachable: %v", domainURL, err)
		return false
	}
	resp.Body.Close()
	return true
}
