package substrate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/lexibase/lexibase/pkg/provider/llm"
)

// cacheKey addresses a response by content: identical (task, prompt, schema,
// tier) tuples always map to the same key.
func cacheKey(task Task, prompt string, schema []byte, tier Complexity) string {
	h := sha256.New()
	h.Write([]byte(task))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(schema)
	h.Write([]byte{0})
	h.Write([]byte(tier))
	return hex.EncodeToString(h.Sum(nil))
}

// cached is one validated response held by the cache.
type cached struct {
	data    json.RawMessage
	usage   llm.Usage
	model   string
	expires time.Time
}

// responseCache is an in-memory content-addressed TTL cache for validated LLM
// responses. Expired entries are evicted lazily on read and in bulk when the
// map grows past sweepThreshold.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cached
}

const sweepThreshold = 4096

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]cached)}
}

func (c *responseCache) get(key string) (cached, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return cached{}, false
	}
	if now.After(e.expires) {
		delete(c.entries, key)
		return cached{}, false
	}
	return e, true
}

func (c *responseCache) put(key string, e cached) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= sweepThreshold {
		for k, v := range c.entries {
			if now.After(v.expires) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = e
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
