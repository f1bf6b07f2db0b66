package chunk

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// DefaultCacheSize bounds the decision cache when no size is given.
const DefaultCacheSize = 4096

// Cached memoizes decisions of a Classifier. Watch-mode rebuilds ask about the
// same module ids over and over, so the service keeps one of these per rule set.
type Cached struct {
	c     *Classifier
	cache *lru.Cache[string, Decision]
}

// NewCached wraps c with an LRU of the given size (DefaultCacheSize if <= 0).
func NewCached(c *Classifier, size int) (*Cached, error) {
	if c == nil {
		return nil, xerrors.New("nil classifier")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Decision](size)
	if err != nil {
		return nil, xerrors.Wrap(err, "create decision cache")
	}
	return &Cached{c: c, cache: cache}, nil
}

// Classify returns the cached decision for id, computing it on a miss.
func (c *Cached) Classify(id string) Decision {
	if d, ok := c.cache.Get(id); ok {
		return d
	}
	d := c.c.Classify(id)
	c.cache.Add(id, d)
	return d
}

// Len reports how many decisions are cached.
func (c *Cached) Len() int { return c.cache.Len() }
