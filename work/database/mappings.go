package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/types"
)

// ageModifier converts a duration into a SQLite datetime modifier relative
// to now, e.g. 20m -> "-1200 seconds".
func ageModifier(age time.Duration) string {
	return fmt.Sprintf("-%d seconds", int64(age.Seconds()))
}

// SaveMapping inserts or updates the mapping for a (match, channel) slot.
// Idempotent: a discovery pass that re-finds the same channel simply
// overwrites any stale resolved_id/domain while the counters survive.
func (db *DB) SaveMapping(matchKey, channelKey, resolvedID, domain, channelLabel string) error {
	if matchKey == "" || channelKey == "" || resolvedID == "" || domain == "" {
		return fmt.Errorf("mapping fields must not be empty")
	}

	query := `
		INSERT INTO mappings (
			match_key, channel_key, resolved_id, domain, channel_label
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(match_key, channel_key) DO UPDATE SET
			resolved_id = excluded.resolved_id,
			domain = excluded.domain,
			channel_label = excluded.channel_label
	`

	_, err := db.Exec(query, matchKey, channelKey, resolvedID, domain, channelLabel)
	if err != nil {
		return fmt.Errorf("%w: failed to save mapping: %v", types.ErrStore, err)
	}
	return nil
}

// GetMapping returns the mapping for an exact (match, channel) slot, or nil
// when no row exists.
func (db *DB) GetMapping(matchKey, channelKey string) (*types.Mapping, error) {
	row := db.QueryRow(`
		SELECT match_key, channel_key, resolved_id, domain, channel_label,
		       success_count, fail_count, last_verified_at, created_at
		FROM mappings
		WHERE match_key = ? AND channel_key = ?
	`, matchKey, channelKey)

	return scanMapping(row)
}

// GetMappingsForMatch returns every mapping row for a match, best score
// first, so callers can apply their own channel preference on top. Score is
// the historical success rate with a +1/+2 smoothing so a single lucky
// success does not beat a long reliable run.
func (db *DB) GetMappingsForMatch(matchKey string) ([]*types.Mapping, error) {
	rows, err := db.Query(`
		SELECT match_key, channel_key, resolved_id, domain, channel_label,
		       success_count, fail_count, last_verified_at, created_at
		FROM mappings
		WHERE match_key = ?
		ORDER BY CAST(success_count + 1 AS REAL) / (success_count + fail_count + 2) DESC,
		         success_count DESC, last_verified_at DESC
	`, matchKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query mappings: %v", types.ErrStore, err)
	}
	defer rows.Close()

	var mappings []*types.Mapping
	for rows.Next() {
		m, err := scanMappingRows(rows)
		if err != nil {
			continue
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// GetMappingByResolvedID returns the best-scoring mapping that points at the
// given resolved stream id, or nil. The proxy uses this to find the player
// page to re-walk when a stream's token expires mid-playback.
func (db *DB) GetMappingByResolvedID(resolvedID string) (*types.Mapping, error) {
	row := db.QueryRow(`
		SELECT match_key, channel_key, resolved_id, domain, channel_label,
		       success_count, fail_count, last_verified_at, created_at
		FROM mappings
		WHERE resolved_id = ?
		ORDER BY success_count DESC, last_verified_at DESC
		LIMIT 1
	`, resolvedID)

	return scanMapping(row)
}

// RecordSuccess bumps the success counter and refreshes the verification
// timestamp for every slot of the match that carries this resolved id.
func (db *DB) RecordSuccess(matchKey, resolvedID string) error {
	_, err := db.Exec(`
		UPDATE mappings
		SET success_count = success_count + 1,
		    last_verified_at = CURRENT_TIMESTAMP
		WHERE match_key = ? AND resolved_id = ?
	`, matchKey, resolvedID)
	if err != nil {
		return fmt.Errorf("%w: failed to record success: %v", types.ErrStore, err)
	}
	return nil
}

// RecordFailure bumps the failure counter. The verification timestamp is
// left alone so the refresh window still sees the row.
func (db *DB) RecordFailure(matchKey, resolvedID string) error {
	_, err := db.Exec(`
		UPDATE mappings
		SET fail_count = fail_count + 1
		WHERE match_key = ? AND resolved_id = ?
	`, matchKey, resolvedID)
	if err != nil {
		return fmt.Errorf("%w: failed to record failure: %v", types.ErrStore, err)
	}
	return nil
}

// DueForRefresh returns mappings whose last verification is older than
// minAge (the embedded token may be near expiry) but younger than maxAge
// (the match is presumably still live), oldest first, capped at limit.
func (db *DB) DueForRefresh(minAge, maxAge time.Duration, limit int) ([]*types.Mapping, error) {
	rows, err := db.Query(`
		SELECT match_key, channel_key, resolved_id, domain, channel_label,
		       success_count, fail_count, last_verified_at, created_at
		FROM mappings
		WHERE last_verified_at < datetime('now', ?)
		  AND last_verified_at > datetime('now', ?)
		ORDER BY last_verified_at ASC
		LIMIT ?
	`, ageModifier(minAge), ageModifier(maxAge), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query refresh window: %v", types.ErrStore, err)
	}
	defer rows.Close()

	var due []*types.Mapping
	for rows.Next() {
		m, err := scanMappingRows(rows)
		if err != nil {
			continue
		}
		due = append(due, m)
	}
	return due, nil
}

// MappingStats aggregates telemetry over the given lookback window.
func (db *DB) MappingStats(window time.Duration) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total, matches, successes, failures, fresh int
	err := db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(DISTINCT match_key),
		       COALESCE(SUM(success_count), 0),
		       COALESCE(SUM(fail_count), 0),
		       COALESCE(SUM(CASE WHEN last_verified_at > datetime('now', ?) THEN 1 ELSE 0 END), 0)
		FROM mappings
	`, ageModifier(window)).Scan(&total, &matches, &successes, &failures, &fresh)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to aggregate stats: %v", types.ErrStore, err)
	}

	stats["total_mappings"] = total
	stats["distinct_matches"] = matches
	stats["total_successes"] = successes
	stats["total_failures"] = failures
	stats["verified_in_window"] = fresh
	if successes+failures > 0 {
		stats["success_rate"] = float64(successes) / float64(successes+failures)
	} else {
		stats["success_rate"] = 0.0
	}

	return stats, nil
}

// CleanupOld prunes rows that have gone unverified for maxUnverified or were
// created more than maxAge ago, and returns the number deleted.
func (db *DB) CleanupOld(maxUnverified, maxAge time.Duration) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM mappings
		WHERE last_verified_at < datetime('now', ?)
		   OR created_at < datetime('now', ?)
	`, ageModifier(maxUnverified), ageModifier(maxAge))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to cleanup mappings: %v", types.ErrStore, err)
	}
	return result.RowsAffected()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(row *sql.Row) (*types.Mapping, error) {
	m, err := scanMappingRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan mapping: %v", types.ErrStore, err)
	}
	return m, nil
}

func scanMappingRows(s scanner) (*types.Mapping, error) {
	var m types.Mapping
	err := s.Scan(
		&m.MatchKey, &m.ChannelKey, &m.ResolvedID, &m.Domain, &m.ChannelLabel,
		&m.SuccessCount, &m.FailCount, &m.LastVerifiedAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
