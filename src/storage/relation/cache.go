package relation

import (
	"container/list"
	"sync"
	"time"

	"github.com/Blackdeer1524/relcore/src/pkg/common"
	"github.com/Blackdeer1524/relcore/src/query"
)

const defaultScanCacheSize = 8

// version identifies the contents of a relation file. A cached scan is
// served only while the file still has the version it was read at.
type version struct {
	modTime time.Time
	size    int64
}

type cachedScan struct {
	table   common.TableID
	version version
	records []query.Record
}

// scanCache keeps the most recently scanned relations. The least recently
// used one is evicted once the cache is full.
type scanCache struct {
	mu       sync.Mutex
	capacity int
	lru      *list.List
	scans    map[common.TableID]*list.Element
}

func newScanCache(capacity int) *scanCache {
	return &scanCache{
		capacity: capacity,
		lru:      list.New(),
		scans:    make(map[common.TableID]*list.Element),
	}
}

func (c *scanCache) Get(table common.TableID, v version) ([]query.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.scans[table]
	if !ok {
		return nil, false
	}

	scan := elem.Value.(*cachedScan)
	if scan.version != v {
		c.lru.Remove(elem)
		delete(c.scans, table)
		return nil, false
	}

	c.lru.MoveToFront(elem)
	return scan.records, true
}

func (c *scanCache) Put(table common.TableID, v version, records []query.Record) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.scans[table]; ok {
		elem.Value = &cachedScan{table: table, version: v, records: records}
		c.lru.MoveToFront(elem)
		return
	}

	c.scans[table] = c.lru.PushFront(&cachedScan{table: table, version: v, records: records})
	for c.lru.Len() > c.capacity {
		c.evictLocked()
	}
}

func (c *scanCache) Forget(table common.TableID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.scans[table]; ok {
		c.lru.Remove(elem)
		delete(c.scans, table)
	}
}

func (c *scanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

func (c *scanCache) evictLocked() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}

	c.lru.Remove(elem)
	delete(c.scans, elem.Value.(*cachedScan).table)
}
