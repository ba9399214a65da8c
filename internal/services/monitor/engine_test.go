package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NordCoder/Pricewatch/internal/domain/item"
	"github.com/NordCoder/Pricewatch/internal/domain/kafka"
	"github.com/NordCoder/Pricewatch/internal/domain/price"
)

type engineFixture struct {
	engine *Engine
	store  *fakeStore
	source *fakeSource
	clock  *fakeClock
	cache  *PriceCache
}

func newFixture(t *testing.T, src func(*fakeSource), items ...*item.TrackedItem) *engineFixture {
	t.Helper()
	clock := newFakeClock()
	store := newFakeStore(items...)
	source := newFakeSource(clock)
	if src != nil {
		src(source)
	}
	cache := NewPriceCache(100, time.Minute)
	e := NewEngine(zaptest.NewLogger(t), Deps{
		Items:         store,
		Notifications: store,
		Outbox:        store,
		Transactor:    store,
		Source:        source,
		Cache:         cache,
		Pacer:         NewPacer(PacerConfig{}),
		Clock:         clock,
	}, Config{
		StaleThreshold: time.Hour,
		MaxItemsPerRun: 50,
		DropThreshold:  decimal.RequireFromString("0.01"),
		Workers:        4,
	})
	return &engineFixture{engine: e, store: store, source: source, clock: clock, cache: cache}
}

func TestEngine_FirstObservationRecordsBaseline(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) { s.price("B01", "49.99") }, tracked(1, 10, "B01", ""))

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Examined)
	assert.Equal(t, 1, sum.Baselines)
	assert.Equal(t, 0, sum.Drops)
	it := f.store.itemByID(1)
	require.True(t, it.LastKnownPrice.Valid)
	assert.Equal(t, "49.99", it.LastKnownPrice.Decimal.StringFixed(2))
	require.NotNil(t, it.LastCheckedAt)
	assert.True(t, it.LastCheckedAt.Equal(f.clock.Now()))
	assert.Empty(t, f.store.notifications())
}

func TestEngine_DropCreatesNotificationAndEvent(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) { s.price("B01", "90") }, tracked(1, 10, "B01", "100"))

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Drops)

	ns := f.store.notifications()
	require.Len(t, ns, 1)
	n := ns[0]
	assert.Equal(t, int64(10), n.UserID)
	assert.Equal(t, int64(1), n.ItemID)
	assert.Equal(t, "product B01", n.ProductName)
	assert.True(t, n.OldPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, n.NewPrice.Equal(decimal.NewFromInt(90)))
	assert.False(t, n.Read)

	assert.True(t, f.store.itemByID(1).LastKnownPrice.Decimal.Equal(decimal.NewFromInt(90)))

	require.Equal(t, 1, f.store.outboxLen())
	msg, ok := f.store.outbox["price-dropped:1"]
	require.True(t, ok)
	var ev kafka.PriceDropped
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, n.ID, ev.NotificationID)
	assert.True(t, ev.NewPrice.Equal(decimal.NewFromInt(90)))
}

func TestEngine_IncreaseKeepsReferencePrice(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) {
		s.price("UP", "120")
		s.price("FLAT", "99.5")
	}, tracked(1, 10, "UP", "100"), tracked(2, 10, "FLAT", "100"))

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Examined)
	assert.Equal(t, 0, sum.Drops)
	for _, id := range []int64{1, 2} {
		it := f.store.itemByID(id)
		assert.True(t, it.LastKnownPrice.Decimal.Equal(decimal.NewFromInt(100)))
		require.NotNil(t, it.LastCheckedAt)
		assert.True(t, it.LastCheckedAt.Equal(f.clock.Now()))
	}
	assert.Empty(t, f.store.notifications())
}

func TestEngine_SecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) { s.price("B01", "90") }, tracked(1, 10, "B01", "100"))

	_, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Examined)
	assert.Len(t, f.store.notifications(), 1)
	assert.Equal(t, 1, f.source.callsFor("B01"))
}

func TestEngine_OneNotificationPerUserAndOneFetch(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) { s.price("B01", "80") },
		tracked(1, 10, "B01", "100"),
		tracked(2, 20, "B01", "100"),
	)

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Drops)
	assert.Equal(t, 1, f.source.callsFor("B01"))
	users := map[int64]int{}
	for _, n := range f.store.notifications() {
		users[n.UserID]++
	}
	assert.Equal(t, map[int64]int{10: 1, 20: 1}, users)
}

func TestEngine_FailuresAreIsolated(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) {
		s.fail("A", price.OutcomeNetworkFailure, errors.New("connection reset"))
		s.price("B", "50")
		s.fail("C", price.OutcomeParseFailure, errors.New("no price element"))
	}, tracked(1, 10, "A", "100"), tracked(2, 10, "B", "100"), tracked(3, 10, "C", "100"))

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Examined)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, sum.Drops)
	for _, id := range []int64{1, 2, 3} {
		it := f.store.itemByID(id)
		require.NotNil(t, it.LastCheckedAt, "item %d", id)
		assert.True(t, it.LastCheckedAt.Equal(f.clock.Now()))
	}
	assert.True(t, f.store.itemByID(1).LastKnownPrice.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestEngine_TimeoutAdvancesLastChecked(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) {
		s.fail("B01", price.OutcomeNetworkFailure, context.DeadlineExceeded)
	}, tracked(1, 10, "B01", "100"))

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	it := f.store.itemByID(1)
	require.NotNil(t, it.LastCheckedAt)
	assert.True(t, it.LastCheckedAt.Equal(f.clock.Now()))
	assert.True(t, it.LastKnownPrice.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestEngine_NotFoundIsSkippedAndAdvanced(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) {
		s.fail("GONE", price.OutcomeNotFound, errors.New("404"))
	}, tracked(1, 10, "GONE", "100"))

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Skipped)
	assert.NotNil(t, f.store.itemByID(1).LastCheckedAt)
}

func TestEngine_CacheServesLaterRuns(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) { s.price("B01", "100") }, tracked(1, 10, "B01", "100"))

	_, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Examined)
	assert.Equal(t, 1, f.source.callsFor("B01"))
	assert.Equal(t, 1, f.cache.Len())
}

func TestEngine_VanishedItemIsSkipped(t *testing.T) {
	var f *engineFixture
	f = newFixture(t, func(s *fakeSource) {
		s.on("B01", func(context.Context, string) price.Observation {
			f.store.remove(1)
			return price.Success("B01", decimal.NewFromInt(50), f.clock.Now())
		})
	}, tracked(1, 10, "B01", "100"))

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Drops)
	assert.Empty(t, f.store.notifications())
}

func TestEngine_CancellationAbandonsInFlightResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Bool
	f := newFixture(t, func(s *fakeSource) {
		s.on("B01", func(ctx context.Context, _ string) price.Observation {
			started.Store(true)
			<-ctx.Done()
			return price.Failure("B01", price.OutcomeNetworkFailure, ctx.Err(), time.Now())
		})
	}, tracked(1, 10, "B01", "100"))

	go func() {
		for !started.Load() {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := f.engine.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f.store.itemByID(1).LastCheckedAt, "abandoned results must not be persisted")
}

func TestEngine_PersistenceOutage(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) {
		s.price("A", "90")
		s.price("B", "100")
	}, tracked(1, 10, "A", "100"), tracked(2, 10, "B", "100"))
	f.store.failUpdate = errors.New("connection refused")

	sum, err := f.engine.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.Equal(t, 2, sum.PersistFailed)
	assert.Empty(t, f.store.notifications())
}

func TestEngine_FailedInsertRollsBackPriceUpdate(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) {
		s.price("A", "90")
		s.price("B", "100")
	}, tracked(1, 10, "A", "100"), tracked(2, 10, "B", "100"))
	f.store.failInsert = errors.New("disk full")

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.PersistFailed)
	it := f.store.itemByID(1)
	assert.True(t, it.LastKnownPrice.Decimal.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, it.LastCheckedAt)
	assert.Equal(t, 0, f.store.outboxLen())
	assert.NotNil(t, f.store.itemByID(2).LastCheckedAt)
}

func TestEngine_SelectionFailureIsRunError(t *testing.T) {
	f := newFixture(t, nil)
	f.store.failSelect = errors.New("db down")

	_, err := f.engine.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select stale items")
}

func TestEngine_RespectsMaxItemsPerRun(t *testing.T) {
	f := newFixture(t, func(s *fakeSource) { s.price("B01", "100") },
		tracked(1, 10, "B01", "100"), tracked(2, 11, "B01", "100"), tracked(3, 12, "B01", "100"))
	f.engine.cfg.MaxItemsPerRun = 2

	sum, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Examined)
	assert.Nil(t, f.store.itemByID(3).LastCheckedAt)
}
