// Package session keeps the upstream cookies from recent resolutions alive
// for a short window, keyed by stream id, so the proxy can replay and refresh
// a session token without re-walking the page chain on every request.
package session

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/KEithwy1030/BTHsports.com/work/logger"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry struct {
	cookies string
	expires time.Time
}

// Store is a TTL cookie store shared across the engine, the refresher and
// the proxy. Entries expire lazily on read and a background sweep clears
// what nobody reads.
type Store struct {
	entries *xsync.MapOf[string, entry]
	ttl     time.Duration
}

// NewStore builds a store whose entries live for ttl after their last write.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		entries: xsync.NewMapOf[string, entry](),
		ttl:     ttl,
	}
}

// Put stores (or refreshes) the cookies for a stream id.
func (s *Store) Put(streamID, cookies string) {
	if streamID == "" || cookies == "" {
		return
	}
	s.entries.Store(streamID, entry{
		cookies: cookies,
		expires: time.Now().Add(s.ttl),
	})
}

// Get returns the live cookies for a stream id, expiring stale entries on
// the way out.
func (s *Store) Get(streamID string) (string, bool) {
	e, ok := s.entries.Load(streamID)
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		s.entries.Delete(streamID)
		return "", false
	}
	return e.cookies, true
}

// Run sweeps expired entries until the context ends. One sweep per TTL is
// plenty; Get already expires hot entries.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			now := time.Now()
			s.entries.Range(func(key string, e entry) bool {
				if now.After(e.expires) {
					s.entries.Delete(key)
					removed++
				}
				return true
			})
			if removed > 0 {
				logger.Debug("{session/session - Run} swept %d expired session(s)", removed)
			}
		}
	}
}

// EncodeToken wraps a cookie or referer string as an opaque URL token.
func EncodeToken(value string) string {
	if value == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(value))
}

// DecodeToken reverses EncodeToken. Invalid tokens decode to empty rather
// than erroring: a garbled token just means an anonymous upstream request.
func DecodeToken(token string) string {
	if token == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return ""
	}
	return string(raw)
}
