package usecase

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/secmon-lab/kotodama/pkg/domain/interfaces"
	"github.com/secmon-lab/kotodama/pkg/domain/model"
)

type cacheInvalidator interface {
	Invalidate(tenantID string)
}

// CachedRetriever memoizes retrieval results per tenant, owner filter, k and normalized text.
// Entries of a tenant are dropped whenever its documents change.
type CachedRetriever struct {
	base  *RetrievalUseCase
	cache *expirable.LRU[string, []*model.RankedResult]

	mu          sync.Mutex
	generations map[string]uint64
}

var (
	_ interfaces.Retriever = &CachedRetriever{}
	_ cacheInvalidator     = &CachedRetriever{}
)

func NewCachedRetriever(base *RetrievalUseCase, size int, ttl time.Duration) *CachedRetriever {
	return &CachedRetriever{
		base:        base,
		cache:       expirable.NewLRU[string, []*model.RankedResult](size, nil, ttl),
		generations: make(map[string]uint64),
	}
}

func (c *CachedRetriever) Retrieve(ctx context.Context, q interfaces.RetrievalQuery) ([]*model.RankedResult, error) {
	pq, err := c.base.prepare(q)
	if err != nil {
		return nil, err
	}

	key := cacheKey(pq)
	if cached, ok := c.cache.Get(key); ok {
		return copyResults(cached), nil
	}

	gen := c.generation(pq.filter.TenantID)
	results, err := c.base.retrieve(ctx, pq)
	if err != nil {
		return nil, err
	}

	// A write to the tenant while retrieving makes the results stale
	if c.generation(pq.filter.TenantID) == gen {
		c.cache.Add(key, copyResults(results))
	}
	return results, nil
}

// Invalidate drops every cached entry of the tenant
func (c *CachedRetriever) Invalidate(tenantID string) {
	c.mu.Lock()
	c.generations[tenantID]++
	c.mu.Unlock()

	prefix := tenantID + "\x00"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

// Len returns the number of cached entries
func (c *CachedRetriever) Len() int {
	return c.cache.Len()
}

func (c *CachedRetriever) generation(tenantID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[tenantID]
}

func cacheKey(pq *preparedQuery) string {
	return strings.Join([]string{
		pq.filter.TenantID,
		pq.filter.OwnerID,
		strconv.Itoa(pq.k),
		normalizeQueryText(pq.text),
	}, "\x00")
}

// normalizeQueryText lower-cases and collapses whitespace
func normalizeQueryText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func copyResults(results []*model.RankedResult) []*model.RankedResult {
	copied := make([]*model.RankedResult, len(results))
	for i, r := range results {
		c := *r
		if r.Tags != nil {
			c.Tags = append([]string(nil), r.Tags...)
		}
		copied[i] = &c
	}
	return copied
}
