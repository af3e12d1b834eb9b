// Package refresher keeps hot mappings alive without waiting for a viewer to
// hit an expired token. Resolved media URLs embed short-lived authorization,
// so every cycle re-resolves the mappings whose last verification is old
// enough to be at risk but young enough that the match is still on.
package refresher

import (
	"context"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/config"
	"github.com/KEithwy1030/BTHsports.com/work/database"
	"github.com/KEithwy1030/BTHsports.com/work/engine"
	"github.com/KEithwy1030/BTHsports.com/work/logger"
	"github.com/KEithwy1030/BTHsports.com/work/metrics"
)

// Refresher is the background refresh scheduler.
type Refresher struct {
	cfg    *config.Config
	db     *database.DB
	engine *engine.Engine
	cancel context.CancelFunc
}

// New builds a Refresher. Start must be called to begin cycling.
func New(cfg *config.Config, db *database.DB, eng *engine.Engine) *Refresher {
	return &Refresher{
		cfg:    cfg,
		db:     db,
		engine: eng,
	}
}

// Start launches the refresh loop on its own goroutine.
func (r *Refresher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		ticker := time.NewTicker(r.cfg.RefreshInterval)
		defer ticker.Stop()

		logger.Info("{refresher/refresher - Start} refresh scheduler running every %s", r.cfg.RefreshInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runCycle(ctx)
			}
		}
	}()
}

// Stop halts the refresh loop.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// runCycle refreshes one bounded batch of due mappings. The batch cap keeps
// a busy matchday from turning the scheduler into a crawl of the upstream.
func (r *Refresher) runCycle(ctx context.Context) {
	metrics.RefreshCycles.Inc()

	if r.db == nil {
		return
	}
	due, err := r.db.DueForRefresh(r.cfg.RefreshMinAge, r.cfg.RefreshMaxAge, r.cfg.RefreshBatchSize)
	if err != nil {
		logger.Warn("{refresher/refresher - runCycle} refresh query degraded: %v", err)
		return
	}
	if len(due) == 0 {
		logger.Debug("{refresher/refresher - runCycle} nothing due")
		return
	}

	refreshed, failed := 0, 0
	for _, m := range due {
		if ctx.Err() != nil {
			return
		}
		cycleCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout*time.Duration(r.cfg.MaxHops))
		_, err := r.engine.RefreshMapping(cycleCtx, m)
		cancel()
		if err != nil {
			failed++
			logger.Debug("{refresher/refresher - runCycle} refresh of %s/%s failed: %v", m.MatchKey, m.ResolvedID, err)
			continue
		}
		refreshed++
	}

	logger.Info("{refresher/refresher - runCycle} cycle done: %d refreshed, %d failed of %d due", refreshed, failed, len(due))
}

// RefreshMatch forces immediate re-resolution of every mapping for one
// match, bypassing the interval. Returns how many slots refreshed.
func (r *Refresher) RefreshMatch(ctx context.Context, matchKey string) (refreshed int, failed int, err error) {
	if r.db == nil {
		return 0, 0, nil
	}
	mappings, err := r.db.GetMappingsForMatch(matchKey)
	if err != nil {
		return 0, 0, err
	}

	for _, m := range mappings {
		if ctx.Err() != nil {
			break
		}
		if _, err := r.engine.RefreshMapping(ctx, m); err != nil {
			failed++
			continue
		}
		refreshed++
	}
	return refreshed, failed, nil
}
