package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/NordCoder/Pricewatch/internal/domain/price"
)

// runFetcher resolves prices for a single run. Every product ref reaches the source at most once
// per run, whatever the outcome and however many items share it.
type runFetcher struct {
	source price.Source
	cache  *PriceCache
	pacer  *Pacer
	now    func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]price.Observation
}

func newRunFetcher(source price.Source, cache *PriceCache, pacer *Pacer, now func() time.Time) *runFetcher {
	return &runFetcher{
		source: source,
		cache:  cache,
		pacer:  pacer,
		now:    now,
		memo:   make(map[string]price.Observation),
	}
}

func (f *runFetcher) lookup(ref string) (price.Observation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs, ok := f.memo[ref]
	return obs, ok
}

func (f *runFetcher) remember(ref string, obs price.Observation) {
	f.mu.Lock()
	f.memo[ref] = obs
	f.mu.Unlock()
}

func (f *runFetcher) fetch(ctx context.Context, ref string) price.Observation {
	if obs, ok := f.lookup(ref); ok {
		return obs
	}
	v, _, _ := f.group.Do(ref, func() (any, error) {
		if obs, ok := f.lookup(ref); ok {
			return obs, nil
		}
		if f.cache != nil {
			if p, ok := f.cache.Get(ref); ok {
				obs := price.Success(ref, p, f.now())
				f.remember(ref, obs)
				return obs, nil
			}
		}
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx); err != nil {
				// Not memoized: the run is being abandoned.
				return price.Failure(ref, price.OutcomeNetworkFailure, err, f.now()), nil
			}
		}
		obs := f.call(ctx, ref)
		if ctx.Err() != nil {
			return obs, nil
		}
		f.remember(ref, obs)
		if obs.Outcome == price.OutcomeSuccess && f.cache != nil {
			f.cache.Put(ref, obs.Price.Decimal)
		}
		return obs, nil
	})
	return v.(price.Observation)
}

func (f *runFetcher) call(ctx context.Context, ref string) (obs price.Observation) {
	mSourceCalls.Inc()
	defer func() {
		if r := recover(); r != nil {
			obs = price.Failure(ref, price.OutcomeNetworkFailure, fmt.Errorf("price source panic: %v", r), f.now())
		}
	}()
	obs = f.source.Fetch(ctx, ref)
	obs.ProductRef = ref
	if obs.Outcome == price.OutcomeSuccess && !obs.Price.Valid {
		obs = price.Failure(ref, price.OutcomeParseFailure, errMissingPrice, obs.ObservedAt)
	}
	return obs
}
