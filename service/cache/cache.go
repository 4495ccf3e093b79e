package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/HelloWorldImJoe/v2ex-tx2json/service/explorer"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/metrics"
)

// RecordCache keeps recently extracted records keyed by transaction id.
// A nil *RecordCache is a valid, always-empty cache.
type RecordCache struct {
	lru     *lru.Cache[string, explorer.Record]
	metrics *metrics.Metrics
}

// New returns a cache holding at most size records. A size of zero returns
// nil, which disables caching.
func New(size int, m *metrics.Metrics) (*RecordCache, error) {
	if size == 0 {
		return nil, nil
	}
	c, err := lru.New[string, explorer.Record](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create record cache: %w", err)
	}
	return &RecordCache{lru: c, metrics: m}, nil
}

// Get returns the cached record for tx.
func (c *RecordCache) Get(tx string) (explorer.Record, bool) {
	if c == nil {
		return explorer.Record{}, false
	}
	rec, ok := c.lru.Get(tx)
	c.metrics.RecordCacheLookup(ok)
	return rec, ok
}

// Add stores rec under tx, evicting the least recently used entry when full.
func (c *RecordCache) Add(tx string, rec explorer.Record) {
	if c == nil {
		return
	}
	c.lru.Add(tx, rec)
}

// Remove drops tx from the cache.
func (c *RecordCache) Remove(tx string) {
	if c == nil {
		return
	}
	c.lru.Remove(tx)
}

// Len returns the number of cached records.
func (c *RecordCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
