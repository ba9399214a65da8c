package monitor

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = time.Minute
)

// PriceCache memoizes successful prices by product ref. It is bounded in size and every entry expires.
type PriceCache struct {
	lru *expirable.LRU[string, decimal.Decimal]
}

func NewPriceCache(size int, ttl time.Duration) *PriceCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &PriceCache{
		lru: expirable.NewLRU[string, decimal.Decimal](size, func(string, decimal.Decimal) {
			mCacheEvictions.Inc()
		}, ttl),
	}
}

func (c *PriceCache) Get(ref string) (decimal.Decimal, bool) {
	p, ok := c.lru.Get(ref)
	if ok {
		mCacheRequests.WithLabelValues("hit").Inc()
	} else {
		mCacheRequests.WithLabelValues("miss").Inc()
	}
	return p, ok
}

func (c *PriceCache) Put(ref string, p decimal.Decimal) {
	c.lru.Add(ref, p)
}

func (c *PriceCache) Len() int { return c.lru.Len() }
