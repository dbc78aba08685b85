package addressspace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/coriolis-automation/opcua-server/internal/metrics"
)

// defaultContinuationCacheSize bounds the number of outstanding Browse
// continuation points per AddressSpace when the caller doesn't specify
// one — a server-wide cap, not per-session (this
// continuation-point table is described per session in the protocol,
// but this server backs every session's table with one bounded cache
// to avoid unbounded memory from abandoned Browse calls).
const defaultContinuationCacheSize = 4096

type continuationEntry struct {
	remaining  []BrowseResult
	maxResults int
}

// continuationTable hands out random opaque tokens for paged Browse
// results, evicting the least-recently-used entry once full rather
// than growing without bound — adapted from the bounded LRU registries
// the teacher uses for connection/session caches.
type continuationTable struct {
	cache *lru.Cache
}

func newContinuationTable(size int) (*continuationTable, error) {
	if size <= 0 {
		size = defaultContinuationCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("addressspace: continuation cache: %w", err)
	}
	return &continuationTable{cache: c}, nil
}

func (t *continuationTable) create(remaining []BrowseResult, maxResults int) ([]byte, error) {
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("addressspace: continuation point generation: %w", err)
	}
	key := hex.EncodeToString(token)
	t.cache.Add(key, continuationEntry{remaining: remaining, maxResults: maxResults})
	metrics.BrowseContinuationPointsOpen.Set(float64(t.cache.Len()))
	return token, nil
}

func (t *continuationTable) resume(token []byte) ([]BrowseResult, int, bool) {
	key := hex.EncodeToString(token)
	v, ok := t.cache.Get(key)
	if !ok {
		return nil, 0, false
	}
	t.cache.Remove(key)
	metrics.BrowseContinuationPointsOpen.Set(float64(t.cache.Len()))
	entry := v.(continuationEntry)
	return entry.remaining, entry.maxResults, true
}
