package types

import (
	"errors"
	"time"
)

// Sentinel errors for the resolution pipeline. Per-candidate failures
// (ErrNetwork, ErrNotFound, ErrFiltered) drop that candidate only;
// ErrDecrypt is local to a single extraction attempt and falls through to
// the next strategy; ErrStore degrades a mapping lookup to "no mapping".
// Only ErrExhausted surfaces to the resolution caller.
var (
	ErrNetwork   = errors.New("upstream network failure")
	ErrDecrypt   = errors.New("cipher payload invalid")
	ErrNotFound  = errors.New("no frame or media url found")
	ErrFiltered  = errors.New("rejected by exclusion filter")
	ErrExhausted = errors.New("all candidates exhausted")
	ErrStore     = errors.New("mapping store unavailable")
)

// CandidateKind records how a candidate was produced, so the ranker and the
// response payload can reason about provenance explicitly instead of
// inspecting ad-hoc string fields.
type CandidateKind int

// Candidate provenance values.
const (
	CandidateMapped     CandidateKind = iota // Rebuilt from a persisted mapping row
	CandidateDiscovered                      // Scanned from an entry page's channel buttons
	CandidateGuessed                         // Constructed from a known play-URL shape
)

// String returns the kind as a short label for logs and responses.
func (k CandidateKind) String() string {
	switch k {
	case CandidateMapped:
		return "mapped"
	case CandidateDiscovered:
		return "discovered"
	case CandidateGuessed:
		return "guessed"
	default:
		return "unknown"
	}
}

// Candidate is a single attempt target for one resolution request. Candidates
// are ephemeral: built per request, ordered by PriorScore descending with
// ties broken by Index (discovery order), and never persisted directly. The
// durable memory of which candidate historically worked is the Mapping.
type Candidate struct {
	Kind         CandidateKind `json:"kind"`         // Provenance of this candidate
	Label        string        `json:"label"`        // Visible channel label (may be a generated fallback)
	URL          string        `json:"url"`          // Player page URL the resolver should walk
	SourceDomain string        `json:"sourceDomain"` // Entry mirror host this candidate came from
	ResolvedID   string        `json:"resolvedId"`   // Host-specific stream id (digits), when known
	PriorScore   float64       `json:"priorScore"`   // Historical success score at assembly time
	Index        int           `json:"index"`        // Discovery order, used for stable result ordering
}

// ResolvedSignal is the output of a successful page resolution. It is owned
// by the caller and not retained beyond the response unless copied into a
// Mapping; Cookies carries the header value accumulated across hops so the
// proxy can replay the same session against the media host.
type ResolvedSignal struct {
	SourceURL    string    `json:"sourceUrl"`    // Page the media URL was extracted from
	MediaURL     string    `json:"mediaUrl"`     // Playable media URL
	Cookies      string    `json:"-"`            // Cookie header accumulated across hops
	MediaType    string    `json:"mediaType"`    // hls, flv, mp4 or unknown
	QualityLabel string    `json:"qualityLabel"` // Variant quality when probed, e.g. 1920x1080
	ResolvedAt   time.Time `json:"resolvedAt"`   // When resolution completed
}

// Mapping is the persisted best-known resolution for a (match, channel) pair.
// Counters never go below zero and LastVerifiedAt is monotonically
// non-decreasing: successes bump SuccessCount and refresh LastVerifiedAt,
// failures bump FailCount only. Rows are pruned solely by the cleanup job.
type Mapping struct {
	MatchKey       string    `json:"matchKey"`
	ChannelKey     string    `json:"channelKey"`
	ResolvedID     string    `json:"resolvedId"`
	Domain         string    `json:"domain"`
	ChannelLabel   string    `json:"channelLabel"`
	SuccessCount   int       `json:"successCount"`
	FailCount      int       `json:"failCount"`
	LastVerifiedAt time.Time `json:"lastVerifiedAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SuccessRate returns the mapping's historical success ratio, or zero when
// the row has never been attempted.
func (m *Mapping) SuccessRate() float64 {
	total := m.SuccessCount + m.FailCount
	if total == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(total)
}

// Domain statuses for entry mirror health.
const (
	DomainActive   = "active"
	DomainInactive = "inactive"
)

// DomainHealth is a point-in-time snapshot of one entry mirror, derived from
// in-memory counters. It is not persisted; counters rebuild from live
// telemetry after a restart.
type DomainHealth struct {
	Domain       string  `json:"domain"`
	Label        string  `json:"label"`
	Priority     int     `json:"priority"`
	Status       string  `json:"status"`
	SuccessCount int64   `json:"successCount"`
	FailCount    int64   `json:"failCount"`
	FailRate     float64 `json:"failRate"`
}
