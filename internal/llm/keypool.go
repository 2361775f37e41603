package llm

import (
	"strings"
	"sync"
)

// KeyPool cycles through API credentials. Rotation is explicit: a caller that
// hit a rate limit rotates away from the key it used, and concurrent callers
// reporting the same key only advance the pool once.
type KeyPool struct {
	mu   sync.Mutex
	keys []string
	idx  int
	gen  uint64
}

// NewKeyPool trims keys and drops blanks and repeats. An empty pool holds a
// single empty key, for providers that need no credentials.
func NewKeyPool(keys []string) *KeyPool {
	seen := make(map[string]struct{}, len(keys))
	p := &KeyPool{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		p.keys = append(p.keys, k)
	}
	if len(p.keys) == 0 {
		p.keys = []string{""}
	}
	return p
}

// Len is the number of distinct keys.
func (p *KeyPool) Len() int {
	return len(p.keys)
}

// Current returns the active key and a generation token for Rotate.
func (p *KeyPool) Current() (string, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.idx], p.gen
}

// Rotate moves to the next key if the pool is still at generation gen and
// returns the key now active. It reports whether this call advanced the pool.
func (p *KeyPool) Rotate(gen uint64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return p.keys[p.idx], false
	}
	p.idx = (p.idx + 1) % len(p.keys)
	p.gen++
	return p.keys[p.idx], true
}
