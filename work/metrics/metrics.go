package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ResolutionsTotal counts completed resolution requests by final outcome
// ("resolved", "exhausted", "cancelled"). Counter, only increases.
var ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signal_proxy_resolutions_total",
	Help: "Number of resolution requests by outcome",
}, []string{"outcome"})

// CandidatesTried counts individual candidate attempts by result, across all
// resolution requests and background refreshes.
var CandidatesTried = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signal_proxy_candidates_tried_total",
	Help: "Number of candidate attempts by result",
}, []string{"result"})

// CacheEvents counts hits and misses per proxy cache ("manifest", "segment").
var CacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signal_proxy_cache_events_total",
	Help: "Cache hits and misses per cache",
}, []string{"cache", "event"})

// ProxyBytes counts bytes served to clients per content kind
// ("manifest", "segment").
var ProxyBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signal_proxy_bytes_total",
	Help: "Total bytes served through the proxy",
}, []string{"kind"})

// DomainUp exposes the current status of each entry mirror as a 0/1 gauge.
var DomainUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "signal_proxy_domain_up",
	Help: "Entry mirror status (1=active, 0=inactive)",
}, []string{"domain"})

// RefreshCycles counts background refresh scheduler cycles.
var RefreshCycles = promauto.NewCounter(prometheus.CounterOpts{
	Name: "signal_proxy_refresh_cycles_total",
	Help: "Number of background refresh cycles run",
})

// ActiveResolutions tracks resolution requests currently in flight.
var ActiveResolutions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "signal_proxy_active_resolutions",
	Help: "Resolution requests currently in flight",
})
