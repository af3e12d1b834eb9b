// Package ranker owns the in-memory reliability state that biases candidate
// ordering: per-host success scoring over a rolling window, and the entry
// mirror health registry that implements domain failover. All state is
// injected, constructed in main and reset only by building a new instance,
// never via package globals.
package ranker

import (
	"sort"
	"sync"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/types"
	"github.com/KEithwy1030/BTHsports.com/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
)

// hostStats tracks outcomes for one upstream host inside the current rolling
// window. When the window lapses the counters reset rather than decay; the
// original operational tuning treats six-hour-old outcomes as worthless.
type hostStats struct {
	mu          sync.Mutex
	success     int
	fail        int
	windowStart time.Time
}

// Ranker orders candidates by historical success rate and records outcomes.
// Untested hosts get a small positive prior so they are still tried.
type Ranker struct {
	window  time.Duration
	hosts   *xsync.MapOf[string, *hostStats]
	domains *Domains
}

// New builds a Ranker with a fresh host table and mirror registry.
func New(cfg *config.Config) *Ranker {
	return &Ranker{
		window:  cfg.StatsWindow,
		hosts:   xsync.NewMapOf[string, *hostStats](),
		domains: newDomains(cfg),
	}
}

// Domains exposes the entry mirror health registry.
func (r *Ranker) Domains() *Domains {
	return r.domains
}

// RecordOutcome updates the rolling counters for a host. Host may be a bare
// host or a full URL.
func (r *Ranker) RecordOutcome(host string, success bool) {
	host = utils.HostOf(host)
	if host == "" {
		return
	}

	stats, _ := r.hosts.LoadOrCompute(host, func() *hostStats {
		return &hostStats{windowStart: time.Now()}
	})

	stats.mu.Lock()
	defer stats.mu.Unlock()

	if time.Since(stats.windowStart) > r.window {
		stats.success = 0
		stats.fail = 0
		stats.windowStart = time.Now()
	}
	if success {
		stats.success++
	} else {
		stats.fail++
	}
}

// Score returns the host's raw success rate in the current window. Only a
// host with no outcome on record scores the 0.5 neutral prior, so a tested
// host with a higher rate always ranks above one with a lower rate.
func (r *Ranker) Score(host string) float64 {
	host = utils.HostOf(host)
	stats, ok := r.hosts.Load(host)
	if !ok {
		return 0.5
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	total := stats.success + stats.fail
	if total == 0 || time.Since(stats.windowStart) > r.window {
		return 0.5
	}
	return float64(stats.success) / float64(total)
}

// Rank orders candidates by score descending, dropping any whose source
// mirror is currently disabled. Ties preserve discovery order, so equally
// scored candidates come back in the order the entry page listed them.
func (r *Ranker) Rank(candidates []types.Candidate) []types.Candidate {
	ranked := make([]types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.SourceDomain != "" && !r.domains.IsActive(c.SourceDomain) {
			logger.Debug("{ranker/ranker - Rank} dropping candidate %q: mirror %s disabled", c.Label, c.SourceDomain)
			continue
		}
		c.PriorScore = r.Score(c.URL)
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].PriorScore != ranked[j].PriorScore {
			return ranked[i].PriorScore > ranked[j].PriorScore
		}
		return ranked[i].Index < ranked[j].Index
	})

	return ranked
}
