package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NordCoder/Pricewatch/internal/domain/item"
	"github.com/NordCoder/Pricewatch/internal/domain/kafka"
	"github.com/NordCoder/Pricewatch/internal/domain/notification"
	"github.com/NordCoder/Pricewatch/internal/domain/outbox"
	"github.com/NordCoder/Pricewatch/internal/domain/price"
	"github.com/NordCoder/Pricewatch/internal/obs"
	intoutbox "github.com/NordCoder/Pricewatch/internal/outbox"
	"github.com/NordCoder/Pricewatch/internal/repository/postgres"
)

var (
	ErrPersistenceUnavailable = errors.New("persistence unavailable for every item in the run")

	errMissingPrice = errors.New("successful observation without a price")
)

type Config struct {
	StaleThreshold time.Duration
	MaxItemsPerRun int
	DropThreshold  decimal.Decimal
	Workers        int
}

type Deps struct {
	Items         item.Repo
	Notifications notification.Repo
	// Outbox is optional; without it drops are recorded but not published.
	Outbox     outbox.Repository
	Transactor postgres.Transactor
	Source     price.Source
	Cache      *PriceCache
	Pacer      *Pacer
	Clock      notification.Clock
}

type RunSummary struct {
	StartedAt     time.Time
	Duration      time.Duration
	Examined      int
	Failed        int
	Drops         int
	Baselines     int
	Skipped       int
	PersistFailed int
}

type Engine struct {
	log  *zap.Logger
	deps Deps
	cfg  Config
}

func NewEngine(log *zap.Logger, deps Deps, cfg Config) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = notification.SystemClock{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxItemsPerRun <= 0 {
		cfg.MaxItemsPerRun = 50
	}
	return &Engine{
		log:  log.With(zap.String("component", "monitor")),
		deps: deps,
		cfg:  cfg,
	}
}

// Tick adapts RunOnce to the scheduler's job signature.
func (e *Engine) Tick(ctx context.Context) error {
	_, err := e.RunOnce(ctx)
	return err
}

type itemResult int

const (
	resultAbandoned itemResult = iota
	resultNoChange
	resultDrop
	resultBaseline
	resultFailed
	resultSkipped
	resultPersistFailed
)

func (r itemResult) String() string {
	switch r {
	case resultNoChange:
		return "no_change"
	case resultDrop:
		return "drop"
	case resultBaseline:
		return "baseline"
	case resultFailed:
		return "failed"
	case resultSkipped:
		return "skipped"
	case resultPersistFailed:
		return "persist_failed"
	default:
		return "abandoned"
	}
}

type tally struct {
	examined, failed, drops, baselines, skipped, persistFailed atomic.Int64
}

func (t *tally) add(r itemResult) {
	if r == resultAbandoned {
		return
	}
	t.examined.Add(1)
	switch r {
	case resultFailed:
		t.failed.Add(1)
	case resultDrop:
		t.drops.Add(1)
	case resultBaseline:
		t.baselines.Add(1)
	case resultSkipped:
		t.skipped.Add(1)
	case resultPersistFailed:
		t.persistFailed.Add(1)
	}
}

func (t *tally) fill(s *RunSummary) {
	s.Examined = int(t.examined.Load())
	s.Failed = int(t.failed.Load())
	s.Drops = int(t.drops.Load())
	s.Baselines = int(t.baselines.Load())
	s.Skipped = int(t.skipped.Load())
	s.PersistFailed = int(t.persistFailed.Load())
}

// RunOnce performs one full scan of stale items. Per-item failures are counted in the summary;
// the returned error is reserved for selection failure, cancellation and total persistence outage.
func (e *Engine) RunOnce(ctx context.Context) (sum RunSummary, err error) {
	runAt := e.deps.Clock.Now()
	sum.StartedAt = runAt

	ctx, span := otel.Tracer("monitor").Start(ctx, "monitor.run")
	defer span.End()
	log := obs.WithTrace(ctx, e.log)

	start := time.Now()
	defer func() {
		sum.Duration = time.Since(start)
		mRunDuration.Observe(sum.Duration.Seconds())
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("monitor run failed", append(summaryFields(sum), zap.Error(err))...)
		} else {
			log.Info("monitor run finished", summaryFields(sum)...)
		}
		mRuns.WithLabelValues(result).Inc()
	}()

	items, err := e.deps.Items.SelectStale(ctx, e.cfg.MaxItemsPerRun, runAt.Add(-e.cfg.StaleThreshold))
	if err != nil {
		return sum, fmt.Errorf("select stale items: %w", err)
	}
	span.SetAttributes(attribute.Int("monitor.items", len(items)))

	f := newRunFetcher(e.deps.Source, e.deps.Cache, e.deps.Pacer, e.deps.Clock.Now)
	var t tally
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		it := it
		g.Go(func() error {
			t.add(e.processItem(ctx, f, it, runAt))
			return nil
		})
	}
	_ = g.Wait()
	t.fill(&sum)

	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("monitor run interrupted: %w", err)
	}
	attempted := sum.Examined - sum.Skipped
	if attempted > 0 && sum.PersistFailed == attempted {
		return sum, ErrPersistenceUnavailable
	}
	return sum, nil
}

func (e *Engine) processItem(ctx context.Context, f *runFetcher, it *item.TrackedItem, runAt time.Time) (res itemResult) {
	ctx, span := otel.Tracer("monitor").Start(ctx, "monitor.item")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("item.id", it.ID),
		attribute.String("item.product_ref", it.ProductRef),
	)
	log := obs.WithTrace(ctx, e.log).With(zap.Int64("item_id", it.ID), zap.String("product_ref", it.ProductRef))

	defer func() {
		if r := recover(); r != nil {
			log.Error("item processing panic", zap.Any("panic", r))
			res = resultFailed
		}
		if res != resultAbandoned {
			mItems.WithLabelValues(res.String()).Inc()
		}
	}()

	if ctx.Err() != nil {
		return resultAbandoned
	}
	ob := f.fetch(ctx, it.ProductRef)
	if ctx.Err() != nil {
		return resultAbandoned
	}
	mOutcomes.WithLabelValues(ob.Outcome.String()).Inc()

	res, n, err := e.apply(ctx, it, ob, runAt)
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		log.Debug("item vanished during run")
		return resultSkipped
	case err != nil:
		if ctx.Err() != nil {
			return resultAbandoned
		}
		span.RecordError(err)
		log.Warn("persist item check", zap.Error(err))
		return resultPersistFailed
	}

	switch res {
	case resultDrop:
		log.Info("price drop",
			zap.Int64("user_id", n.UserID),
			zap.Int64("notification_id", n.ID),
			zap.String("old_price", n.OldPrice.String()),
			zap.String("new_price", n.NewPrice.String()),
		)
	case resultBaseline:
		log.Debug("baseline price recorded", zap.String("price", ob.Price.Decimal.String()))
	case resultFailed:
		log.Warn("price fetch failed", zap.Stringer("outcome", ob.Outcome), zap.Error(ob.Err))
	case resultSkipped:
		log.Info("product not found", zap.Error(ob.Err))
	}
	return res
}

// apply persists the outcome of one observation in a single transaction. The row is locked and the
// decision recomputed against the locked price, so a concurrent writer cannot produce a stale drop.
func (e *Engine) apply(ctx context.Context, it *item.TrackedItem, ob price.Observation, runAt time.Time) (itemResult, *notification.Notification, error) {
	var (
		res itemResult
		n   *notification.Notification
	)
	err := e.deps.Transactor.WithTx(ctx, func(txCtx context.Context) error {
		res, n = resultAbandoned, nil

		cur, err := e.deps.Items.GetForUpdate(txCtx, it.ID)
		if err != nil {
			return fmt.Errorf("lock item: %w", err)
		}

		keep := decimal.NullDecimal{}
		switch ob.Outcome {
		case price.OutcomeSuccess:
			switch Classify(cur.LastKnownPrice, ob.Price, e.cfg.DropThreshold) {
			case Drop:
				res = resultDrop
				keep = ob.Price
			case NoChange:
				res = resultNoChange
			case Invalid:
				if !cur.LastKnownPrice.Valid && ob.Price.Valid && ob.Price.Decimal.IsPositive() {
					res = resultBaseline
					keep = ob.Price
				} else {
					res = resultFailed
				}
			}
		case price.OutcomeNotFound:
			res = resultSkipped
		default:
			res = resultFailed
		}

		if err := e.deps.Items.UpdateChecked(txCtx, cur.ID, keep, runAt); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if res != resultDrop {
			return nil
		}

		n = &notification.Notification{
			UserID:      cur.UserID,
			ItemID:      cur.ID,
			ProductRef:  cur.ProductRef,
			ProductName: cur.ProductName,
			ImageURL:    cur.ImageURL,
			OldPrice:    cur.LastKnownPrice.Decimal,
			NewPrice:    ob.Price.Decimal,
			Timestamp:   e.deps.Clock.Now(),
		}
		if err := e.deps.Notifications.Insert(txCtx, n); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		if e.deps.Outbox == nil {
			return nil
		}
		payload, err := intoutbox.EncodePriceDropped(kafka.PriceDropped{
			NotificationID: n.ID,
			UserID:         n.UserID,
			ItemID:         n.ItemID,
			ProductRef:     n.ProductRef,
			ProductName:    n.ProductName,
			OldPrice:       n.OldPrice,
			NewPrice:       n.NewPrice,
			At:             n.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("encode price-dropped: %w", err)
		}
		if err := e.deps.Outbox.Enqueue(txCtx, intoutbox.PriceDroppedKey(n.ID), outbox.KindPriceDropped, payload); err != nil {
			return fmt.Errorf("outbox enqueue: %w", err)
		}
		return nil
	})
	if err != nil {
		return resultPersistFailed, nil, err
	}
	return res, n, nil
}

func summaryFields(s RunSummary) []zap.Field {
	return []zap.Field{
		zap.Int("examined", s.Examined),
		zap.Int("failed", s.Failed),
		zap.Int("drops", s.Drops),
		zap.Int("baselines", s.Baselines),
		zap.Int("skipped", s.Skipped),
		zap.Int("persist_failed", s.PersistFailed),
		zap.Duration("duration", s.Duration),
	}
}
