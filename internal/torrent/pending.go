package torrent

import (
	"maps"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
)

// pendingAdd is a submitted locator the engine has not confirmed yet.
type pendingAdd struct {
	locator  string
	keys     []string
	userData map[string]any
	metaInfo []byte
	expires  time.Time
}

// pendingTable correlates engine confirmations with submissions. One entry is
// stored under each of its correlation keys; taking it by any key removes all.
type pendingTable struct {
	mu    sync.Mutex
	ttl   time.Duration
	cache *ttlcache.Cache[string, *pendingAdd]
}

func newPendingTable(ttl time.Duration) *pendingTable {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &pendingTable{
		ttl:   ttl,
		cache: ttlcache.New(ttlcache.Options[string, *pendingAdd]{}.SetDefaultTTL(ttl)),
	}
}

func (p *pendingTable) put(keys []string, userData map[string]any, metaInfo []byte) {
	if len(keys) == 0 {
		return
	}
	entry := &pendingAdd{
		locator:  keys[0],
		keys:     keys,
		userData: maps.Clone(userData),
		metaInfo: metaInfo,
		expires:  time.Now().Add(p.ttl),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		p.cache.Set(k, entry, ttlcache.DefaultTTL)
	}
}

// has reports whether any of keys has a live entry.
func (p *pendingTable) has(keys ...string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.findLocked(keys)
	return ok
}

// take removes and returns the first live entry stored under any of keys.
func (p *pendingTable) take(keys ...string) (*pendingAdd, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.findLocked(keys)
	if !ok {
		return nil, false
	}
	for _, k := range entry.keys {
		p.cache.Delete(k)
	}
	return entry, true
}

func (p *pendingTable) findLocked(keys []string) (*pendingAdd, bool) {
	now := time.Now()
	for _, k := range keys {
		if k == "" {
			continue
		}
		entry, ok := p.cache.Get(k)
		if !ok {
			continue
		}
		if now.After(entry.expires) {
			p.cache.Delete(k)
			continue
		}
		return entry, true
	}
	return nil, false
}
