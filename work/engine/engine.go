// Package engine assembles ranked candidate lists from the mapping store and
// live discovery, then races them through a bounded worker pool until the
// match has playable signals. The engine owns all telemetry writeback:
// mapping counters, host scores and mirror health all update here,
// fire-and-forget, off the caller's response path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/database"
	"github.com/KEithwy1030/BTHsports.com/work/discovery"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/metrics"
	"github.com/KEithwy1030/BTHsports.com/work/probe"
	"github.com/KEithwy1030/BTHsports.com/work/ranker"
	"github.com/KEithwy1030/BTHsports.com/work/resolver"
	"github.com/KEithwy1030/BTHsports.com/work/session"
	"github.com/KEithwy1030/BTHsports.com/work/types"
	"github.com/KEithwy1030/BTHsports.com/work/utils"

	"github.com/panjf2000/ants/v2"
)

// hdMarkers bias mapping selection toward high-definition channel slots.
var hdMarkers = []string{"高清", "hd", "1080", "超清"}

// Engine coordinates one resolution request end to end.
type Engine struct {
	cfg        *config.Config
	pool       *ants.Pool
	resolver   *resolver.Resolver
	discoverer *discovery.Discoverer
	ranker     *ranker.Ranker
	health     *ranker.HealthChecker
	prober     *probe.Prober
	db         *database.DB
	sessions   *session.Store
}

// Result pairs a successful signal with the candidate that produced it.
type Result struct {
	Candidate types.Candidate       `json:"candidate"`
	Signal    *types.ResolvedSignal `json:"signal"`
}

// Outcome is the full answer to one resolution request. Signals preserve
// candidate discovery order regardless of worker completion order.
type Outcome struct {
	Success         bool     `json:"success"`
	MediaURL        string   `json:"mediaUrl,omitempty"`
	MediaType       string   `json:"mediaType,omitempty"`
	StreamID        string   `json:"streamId,omitempty"`
	Session         string   `json:"session,omitempty"`
	QualityLabel    string   `json:"qualityLabel,omitempty"`
	CandidatesTried int      `json:"candidatesTried"`
	MappingUsed     bool     `json:"mappingUsed"`
	Signals         []Result `json:"signals,omitempty"`
}

// New wires the engine. db may be nil (store down at boot): every store
// interaction already degrades to "no mapping".
func New(cfg *config.Config, pool *ants.Pool, res *resolver.Resolver, disc *discovery.Discoverer,
	rnk *ranker.Ranker, health *ranker.HealthChecker, prober *probe.Prober,
	db *database.DB, sessions *session.Store) *Engine {
	return &Engine{
		cfg:        cfg,
		pool:       pool,
		resolver:   res,
		discoverer: disc,
		ranker:     rnk,
		health:     health,
		prober:     prober,
		db:         db,
		sessions:   sessions,
	}
}

// ResolveMatch resolves a match key into playable signals. preferredChannel
// selects a specific channel slot from the mapping store when >= 0.
// Per-candidate failures are swallowed; only a fully exhausted candidate
// list comes back as an error.
func (e *Engine) ResolveMatch(ctx context.Context, matchKey string, preferredChannel int) (*Outcome, error) {
	metrics.ActiveResolutions.Inc()
	defer metrics.ActiveResolutions.Dec()

	candidates := e.assembleCandidates(ctx, matchKey, preferredChannel)
	ranked := e.ranker.Rank(candidates)
	if len(ranked) == 0 {
		metrics.ResolutionsTotal.WithLabelValues("exhausted").Inc()
		return &Outcome{CandidatesTried: 0}, fmt.Errorf("%w: no candidates for %s", types.ErrExhausted, matchKey)
	}

	results, tried := e.race(ctx, matchKey, ranked)
	if len(results) == 0 {
		if ctx.Err() != nil {
			metrics.ResolutionsTotal.WithLabelValues("cancelled").Inc()
		} else {
			metrics.ResolutionsTotal.WithLabelValues("exhausted").Inc()
		}
		return &Outcome{CandidatesTried: tried},
			fmt.Errorf("%w: %d candidate(s) tried for %s", types.ErrExhausted, tried, matchKey)
	}

	metrics.ResolutionsTotal.WithLabelValues("resolved").Inc()

	primary := results[0]
	return &Outcome{
		Success:         true,
		MediaURL:        primary.Signal.MediaURL,
		MediaType:       primary.Signal.MediaType,
		StreamID:        primary.Candidate.ResolvedID,
		Session:         session.EncodeToken(primary.Signal.Cookies),
		QualityLabel:    primary.Signal.QualityLabel,
		CandidatesTried: tried,
		MappingUsed:     primary.Candidate.Kind == types.CandidateMapped,
		Signals:         results,
	}, nil
}

// assembleCandidates builds the superset of attempt targets: persisted
// mappings first (they worked before), then live discovery across every
// reachable mirror, de-duplicated by (resolvedId, domain).
func (e *Engine) assembleCandidates(ctx context.Context, matchKey string, preferredChannel int) []types.Candidate {
	var candidates []types.Candidate
	seen := make(map[string]struct{})
	add := func(c types.Candidate) {
		key := c.ResolvedID + "|" + utils.HostOf(c.URL)
		if c.ResolvedID == "" {
			key = c.URL
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		c.Index = len(candidates)
		candidates = append(candidates, c)
	}

	for _, m := range e.storedMappings(matchKey, preferredChannel) {
		add(types.Candidate{
			Kind:         types.CandidateMapped,
			Label:        m.ChannelLabel,
			URL:          playURL(m.Domain, m.ResolvedID),
			SourceDomain: utils.HostOf(m.Domain),
			ResolvedID:   m.ResolvedID,
		})
	}

	domains := e.health.Filter(ctx, e.ranker.Domains().Active())
	for _, entryURL := range e.discoverer.EntryURLs(matchKey, domains) {
		if ctx.Err() != nil {
			break
		}
		body, err := e.discoverer.FetchEntry(ctx, entryURL)
		if err != nil {
			logger.Debug("{engine/engine - assembleCandidates} entry %s skipped: %v", utils.LogURL(e.cfg, entryURL), err)
			e.ranker.Domains().RecordFailure(entryURL)
			continue
		}
		for _, c := range e.discoverer.Discover(body, entryURL) {
			add(c)
		}
	}

	return candidates
}

// storedMappings returns the match's mapping rows in attempt order: the
// preferred channel slot first when requested, otherwise best score with a
// bump for HD-labeled slots. Store errors degrade to no mappings.
func (e *Engine) storedMappings(matchKey string, preferredChannel int) []*types.Mapping {
	if e.db == nil {
		return nil
	}

	mappings, err := e.db.GetMappingsForMatch(matchKey)
	if err != nil {
		logger.Warn("{engine/engine - storedMappings} store degraded for %s: %v", matchKey, err)
		return nil
	}

	if preferredChannel >= 0 && preferredChannel < len(mappings) {
		picked := mappings[preferredChannel]
		rest := make([]*types.Mapping, 0, len(mappings))
		rest = append(rest, picked)
		for i, m := range mappings {
			if i != preferredChannel {
				rest = append(rest, m)
			}
		}
		return rest
	}

	sort.SliceStable(mappings, func(i, j int) bool {
		hi, hj := isHD(mappings[i].ChannelLabel), isHD(mappings[j].ChannelLabel)
		if hi != hj {
			return hi
		}
		return mappings[i].SuccessRate() > mappings[j].SuccessRate()
	})
	return mappings
}

// race drains the ranked queue with a bounded worker pool. Workers
// synchronize only on dequeue, result append and the de-duplication set;
// a failed candidate is dropped, never handed to another worker.
func (e *Engine) race(ctx context.Context, matchKey string, ranked []types.Candidate) ([]Result, int) {
	state := &raceState{
		queue: ranked,
		seen:  make(map[string]struct{}),
	}

	workers := e.cfg.WorkerThreads
	if workers > len(ranked) {
		workers = len(ranked)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			e.raceWorker(ctx, matchKey, state)
		}
		if err := e.pool.Submit(task); err != nil {
			// pool saturated or released: run inline rather than dropping
			task()
		}
	}
	wg.Wait()

	state.mu.Lock()
	results := state.results
	tried := state.tried
	state.mu.Unlock()

	// workers finish out of order; the caller gets discovery order back
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Candidate.Index < results[j].Candidate.Index
	})
	return results, tried
}

type raceState struct {
	mu      sync.Mutex
	queue   []types.Candidate
	results []Result
	seen    map[string]struct{}
	tried   int
}

func (s *raceState) pop() (types.Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return types.Candidate{}, false
	}
	c := s.queue[0]
	s.queue = s.queue[1:]
	s.tried++
	return c, true
}

func (e *Engine) raceWorker(ctx context.Context, matchKey string, state *raceState) {
	for {
		if ctx.Err() != nil {
			return
		}
		c, ok := state.pop()
		if !ok {
			return
		}

		signal, err := e.resolver.Resolve(ctx, c.URL, "")
		if err != nil {
			metrics.CandidatesTried.WithLabelValues("failed").Inc()
			logger.Debug("{engine/engine - raceWorker} candidate %q failed: %v", c.Label, err)
			go e.recordFailure(matchKey, c)
			continue
		}

		if e.cfg.ProbeResolved {
			e.prober.Inspect(ctx, signal)
		}

		// accept only streams we have not already returned under another
		// token; compare with volatile auth parameters stripped
		comparable := utils.ComparableStreamURL(utils.StripVolatileParams(signal.MediaURL))
		state.mu.Lock()
		if _, dup := state.seen[comparable]; dup {
			state.mu.Unlock()
			metrics.CandidatesTried.WithLabelValues("duplicate").Inc()
			continue
		}
		state.seen[comparable] = struct{}{}
		state.results = append(state.results, Result{Candidate: c, Signal: signal})
		state.mu.Unlock()

		metrics.CandidatesTried.WithLabelValues("resolved").Inc()
		e.sessions.Put(c.ResolvedID, signal.Cookies)

		// telemetry is fire-and-forget: a caller timeout must not lose it
		go e.recordSuccess(matchKey, c)
	}
}

// recordSuccess writes success telemetry for one candidate. Runs on its own
// goroutine; store failures degrade to a log line.
func (e *Engine) recordSuccess(matchKey string, c types.Candidate) {
	e.ranker.RecordOutcome(c.URL, true)
	if c.SourceDomain != "" {
		e.ranker.Domains().RecordSuccess(c.SourceDomain)
	}

	if e.db == nil || c.ResolvedID == "" {
		return
	}
	channelKey := c.Label
	if channelKey == "" {
		channelKey = c.ResolvedID
	}
	if err := e.db.SaveMapping(matchKey, channelKey, c.ResolvedID, c.SourceDomain, c.Label); err != nil {
		logger.Warn("{engine/engine - recordSuccess} mapping upsert degraded: %v", err)
		return
	}
	if err := e.db.RecordSuccess(matchKey, c.ResolvedID); err != nil {
		logger.Warn("{engine/engine - recordSuccess} counter update degraded: %v", err)
	}
}

// recordFailure writes failure telemetry for one candidate.
func (e *Engine) recordFailure(matchKey string, c types.Candidate) {
	e.ranker.RecordOutcome(c.URL, false)
	if c.SourceDomain != "" {
		e.ranker.Domains().RecordFailure(c.SourceDomain)
	}

	if e.db == nil || c.ResolvedID == "" {
		return
	}
	if err := e.db.RecordFailure(matchKey, c.ResolvedID); err != nil {
		logger.Warn("{engine/engine - recordFailure} counter update degraded: %v", err)
	}
}

// RefreshMapping re-resolves one persisted mapping against its last known
// domain, records the outcome and returns the fresh signal. The jar is
// seeded with the stream's stored session so the upstream sees a returning
// client rather than a cold one. Used by the background scheduler, the
// manual refresh endpoint and the proxy's token-expiry recovery.
func (e *Engine) RefreshMapping(ctx context.Context, m *types.Mapping) (*types.ResolvedSignal, error) {
	pageURL := playURL(m.Domain, m.ResolvedID)
	signal, err := e.resolver.ResolveWithJar(ctx, pageURL, "", e.seededJar(m.ResolvedID))

	c := types.Candidate{
		Kind:         types.CandidateMapped,
		Label:        m.ChannelLabel,
		URL:          pageURL,
		SourceDomain: utils.HostOf(m.Domain),
		ResolvedID:   m.ResolvedID,
	}

	if err != nil {
		e.recordFailure(m.MatchKey, c)
		return nil, err
	}

	e.sessions.Put(m.ResolvedID, signal.Cookies)
	e.recordSuccess(m.MatchKey, c)
	return signal, nil
}

// RefreshStream re-resolves whatever stream id the proxy is struggling with
// and returns the fresh signal, whose MediaURL carries a newly minted token.
// A known mapping pins the domain; otherwise every active mirror is tried in
// priority order until one resolves.
func (e *Engine) RefreshStream(ctx context.Context, streamID string) (*types.ResolvedSignal, error) {
	if e.db != nil {
		m, err := e.db.GetMappingByResolvedID(streamID)
		if err != nil {
			logger.Warn("{engine/engine - RefreshStream} store degraded for %s: %v", streamID, err)
		} else if m != nil {
			return e.RefreshMapping(ctx, m)
		}
	}

	var lastErr error = fmt.Errorf("%w: no mirror produced stream %s", types.ErrExhausted, streamID)
	for _, dom := range e.ranker.Domains().Active() {
		signal, err := e.resolver.ResolveWithJar(ctx, playURL(dom.URL, streamID), "", e.seededJar(streamID))
		if err != nil {
			if !errors.Is(err, types.ErrNetwork) {
				lastErr = err
			}
			continue
		}
		e.sessions.Put(streamID, signal.Cookies)
		e.ranker.Domains().RecordSuccess(dom.URL)
		return signal, nil
	}
	return nil, lastErr
}

// seededJar builds a cookie jar carrying the stream's stored session, when
// one exists.
func (e *Engine) seededJar(streamID string) *resolver.CookieJar {
	jar := resolver.NewCookieJar()
	if prev, ok := e.sessions.Get(streamID); ok {
		jar.SetFromHeader(prev)
	}
	return jar
}

// isHD reports whether a channel label advertises a high-definition slot.
func isHD(label string) bool {
	lower := strings.ToLower(label)
	for _, marker := range hdMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// playURL rebuilds a mirror's player page URL for a stream id.
func playURL(domain, id string) string {
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "http://" + domain
	}
	return strings.TrimRight(domain, "/") + "/play/steam" + id + ".html"
}
