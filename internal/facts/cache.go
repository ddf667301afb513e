package facts

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/postgen/postgen/pkg/contracts"
)

// Cached memoizes a FactProvider by normalized topic. Empty results are not
// stored so a transient search failure is retried on the next request.
type Cached struct {
	next  contracts.FactProvider
	cache *expirable.LRU[string, string]
}

var _ contracts.FactProvider = (*Cached)(nil)

// NewCached wraps next with an LRU of size entries that expire after ttl.
func NewCached(next contracts.FactProvider, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 256
	}
	return &Cached{next: next, cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *Cached) FetchFacts(ctx context.Context, topic string) string {
	key := cacheKey(topic)
	if v, ok := c.cache.Get(key); ok {
		return v
	}
	v := c.next.FetchFacts(ctx, topic)
	if v != "" {
		c.cache.Add(key, v)
	}
	return v
}

// Len returns the number of cached topics.
func (c *Cached) Len() int { return c.cache.Len() }

func cacheKey(topic string) string {
	return strings.ToLower(strings.Join(strings.Fields(topic), " "))
}

// Disabled is a provider that never returns facts.
var Disabled = contracts.FactProviderFunc(func(context.Context, string) string { return "" })
