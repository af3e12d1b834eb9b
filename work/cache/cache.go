package cache

import (
	"encoding/binary"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/crypto/blake2b"
)

// Entry is one cached upstream response body with its content type.
type Entry struct {
	Body        []byte
	ContentType string
}

// ByteCache is a bounded, TTL-evicting body cache shared across concurrent
// proxy requests. Two instances exist at runtime: a short-TTL manifest cache
// (live playlists change every few seconds) and a long-TTL segment cache
// (segments are immutable once published). Eviction is cost-based on body
// size, so the byte budget bounds total memory rather than entry count.
type ByteCache struct {
	cache *ristretto.Cache[uint64, Entry]
	ttl   time.Duration
}

// NewByteCache builds a cache with the given total byte budget and entry TTL.
func NewByteCache(maxBytes int64, ttl time.Duration) *ByteCache {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, Entry]{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}

	return &ByteCache{
		cache: cache,
		ttl:   ttl,
	}
}

// Get returns the cached entry for the key, if present and not expired.
func (bc *ByteCache) Get(key string) (Entry, bool) {
	return bc.cache.Get(hashKey(key))
}

// Set stores the entry under the key, costed by body size.
func (bc *ByteCache) Set(key string, e Entry) {
	cost := int64(len(e.Body) + len(e.ContentType))
	if cost == 0 {
		cost = 1
	}
	bc.cache.SetWithTTL(hashKey(key), e, cost, bc.ttl)
}

// Wait blocks until pending writes are applied. Only tests need this;
// ristretto applies Set asynchronously.
func (bc *ByteCache) Wait() {
	bc.cache.Wait()
}

// Close releases the cache's internal goroutines.
func (bc *ByteCache) Close() {
	bc.cache.Close()
}

// hashKey collapses a composite string key into the fixed-width key type the
// cache wants. Keyed requests carry session and referer tokens, so keys get
// long; hashing keeps per-entry overhead flat.
func hashKey(s string) uint64 {
	sum := blake2b.Sum256([]byte(s))
	return binary.LittleEndian.Uint64(sum[:8])
}
