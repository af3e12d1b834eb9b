package ranker

import (
	"fmt"
	"sync"

	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/metrics"
	"github.com/KEithwy1030/BTHsports.com/work/types"
	"github.com/KEithwy1030/BTHsports.com/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
)

// promoteAfter is how many consecutive successes bump a mirror's priority.
const promoteAfter = 10

// domainState holds the live counters for one entry mirror.
type domainState struct {
	mu       sync.Mutex
	url      string
	label    string
	priority int
	status   string
	success  int64
	fail     int64
	streak   int
}

// Domains is the entry mirror health registry. A mirror flips to inactive
// once its failure count crosses the configured threshold AND its failure
// rate crosses the configured rate; only an operator action (SetStatus)
// reactivates it. Sustained success slowly promotes a mirror's priority.
type Domains struct {
	cfg    *config.Config
	states *xsync.MapOf[string, *domainState]
}

func newDomains(cfg *config.Config) *Domains {
	d := &Domains{
		cfg:    cfg,
		states: xsync.NewMapOf[string, *domainState](),
	}
	for _, ed := range cfg.EntryDomains {
		host := utils.HostOf(ed.URL)
		d.states.Store(host, &domainState{
			url:      ed.URL,
			label:    ed.Label,
			priority: ed.Priority,
			status:   types.DomainActive,
		})
		metrics.DomainUp.WithLabelValues(host).Set(1)
	}
	return d
}

// Active returns the currently usable mirrors sorted by priority.
func (d *Domains) Active() []config.EntryDomain {
	var active []config.EntryDomain
	d.states.Range(func(host string, st *domainState) bool {
		st.mu.Lock()
		if st.status == types.DomainActive {
			active = append(active, config.EntryDomain{URL: st.url, Priority: st.priority, Label: st.label})
		}
		st.mu.Unlock()
		return true
	})

	for i := 0; i < len(active)-1; i++ {
		for j := i + 1; j < len(active); j++ {
			if active[i].Priority > active[j].Priority {
				active[i], active[j] = active[j], active[i]
			}
		}
	}
	return active
}

// IsActive reports whether a mirror host is usable. Hosts outside the
// registry (media hosts, one-off frames) are always considered active.
func (d *Domains) IsActive(domain string) bool {
	st, ok := d.states.Load(utils.HostOf(domain))
	if !ok {
		return true
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status == types.DomainActive
}

// RecordSuccess notes a successful resolution through a mirror. Ten in a row
// promote the mirror one priority step so a healthy backup migrates forward.
func (d *Domains) RecordSuccess(domain string) {
	st, ok := d.states.Load(utils.HostOf(domain))
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.success++
	st.streak++
	if st.streak >= promoteAfter && st.priority > 1 {
		st.priority--
		st.streak = 0
		logger.Info("{ranker/domains - RecordSuccess} promoted mirror %s to priority %d", st.url, st.priority)
	}
}

// RecordFailure notes a failed resolution through a mirror and disables it
// once both the failure count and the failure rate cross their thresholds.
func (d *Domains) RecordFailure(domain string) {
	host := utils.HostOf(domain)
	st, ok := d.states.Load(host)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.fail++
	st.streak = 0

	total := st.success + st.fail
	rate := float64(st.fail) / float64(total)
	if st.status == types.DomainActive &&
		st.fail > int64(d.cfg.DomainFailThreshold) && rate > d.cfg.DomainFailRate {
		st.status = types.DomainInactive
		metrics.DomainUp.WithLabelValues(host).Set(0)
		logger.Warn("{ranker/domains - RecordFailure} mirror %s disabled: %d failures, rate %.2f", st.url, st.fail, rate)
	}
}

// SetStatus is the operator override: force a mirror active or inactive.
// Reactivating clears the counters so the mirror gets a clean slate.
func (d *Domains) SetStatus(domain, status string) error {
	if status != types.DomainActive && status != types.DomainInactive {
		return fmt.Errorf("invalid status %q: must be %s or %s", status, types.DomainActive, types.DomainInactive)
	}

	host := utils.HostOf(domain)
	st, ok := d.states.Load(host)
	if !ok {
		return fmt.Errorf("unknown domain %q", domain)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.status = status
	if status == types.DomainActive {
		st.success = 0
		st.fail = 0
		st.streak = 0
		metrics.DomainUp.WithLabelValues(host).Set(1)
	} else {
		metrics.DomainUp.WithLabelValues(host).Set(0)
	}

	logger.Info("{ranker/domains - SetStatus} mirror %s set to %s", st.url, status)
	return nil
}

// Snapshot returns the current health of every registered mirror, sorted by
// priority, for the admin surface.
func (d *Domains) Snapshot() []types.DomainHealth {
	var out []types.DomainHealth
	d.states.Range(func(host string, st *domainState) bool {
		st.mu.Lock()
		h := types.DomainHealth{
			Domain:       st.url,
			Label:        st.label,
			Priority:     st.priority,
			Status:       st.status,
			SuccessCount: st.success,
			FailCount:    st.fail,
		}
		if total := st.success + st.fail; total > 0 {
			h.FailRate = float64(st.fail) / float64(total)
		}
		st.mu.Unlock()
		out = append(out, h)
		return true
	})

	for i := 0; i < len(out)-1; i++ {
		for j := i + 1; j < len(out); j++ {
			if out[i].Priority > out[j].Priority {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
