package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "github.com/NordCoder/Pricewatch/internal/config/monitor"
	"github.com/NordCoder/Pricewatch/internal/domain/notification"
	"github.com/NordCoder/Pricewatch/internal/domain/outbox"
	"github.com/NordCoder/Pricewatch/internal/obs"
	"github.com/NordCoder/Pricewatch/internal/obs/retry"
	intoutbox "github.com/NordCoder/Pricewatch/internal/outbox"
	kafkaRepo "github.com/NordCoder/Pricewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Pricewatch/internal/repository/postgres"
	"github.com/NordCoder/Pricewatch/internal/repository/scraper"
	"github.com/NordCoder/Pricewatch/internal/services/monitor"
	"github.com/NordCoder/Pricewatch/internal/services/scheduler"
)

func main() {
	cfgPath := flag.String("config", "config/monitor.yaml", "path to config file")
	flag.Parse()

	// init
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting monitor",
		zap.Int("check_interval_seconds", cfg.Monitor.CheckIntervalSeconds),
		zap.Int("max_items_per_run", cfg.Monitor.MaxItemsPerRun),
		zap.Float64("price_drop_threshold", cfg.Monitor.PriceDropThreshold),
		zap.Bool("kafka", cfg.Kafka.Enable),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig(cfg.App.Version))
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	transactor := pg.NewTransactor(db, l)
	items := pg.NewItemRepo(db)
	notifications := pg.NewNotificationRepo(db)

	// kafka + outbox relay
	var events outbox.Repository
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	var relay *intoutbox.Runner
	if cfg.Kafka.Enable {
		prod := kafkaRepo.BootstrapProducer(ctx, cfg.Kafka.AsProducerConfig(), l)
		defer func() { _ = prod.Close() }()

		outboxRepo := pg.NewOutboxRepo(db)
		dispatch := intoutbox.MakeGlobalOutboxHandler(kafkaRepo.NewPriceEventsKafka(prod), retry.DefaultPublishPolicy(l))
		relay = intoutbox.NewOutboxRunner(l, outboxRepo, dispatch, cfg.Outbox)
		relay.Start(relayCtx)
		events = outboxRepo
	}

	// engine
	engine := monitor.NewEngine(l, monitor.Deps{
		Items:         items,
		Notifications: notifications,
		Outbox:        events,
		Transactor:    transactor,
		Source:        scraper.New(cfg.AsScraperConfig(), nil),
		Cache:         monitor.NewPriceCache(cfg.Cache.Size, cfg.Cache.TTL),
		Pacer:         monitor.NewPacer(cfg.Monitor.AsPacerConfig()),
		Clock:         notification.SystemClock{},
	}, cfg.Monitor.AsEngineConfig())

	sched, err := scheduler.New(l, engine.Tick, cfg.Monitor.AsSchedulerConfig())
	if err != nil {
		l.Fatal("scheduler init", zap.Error(err))
	}

	// run metrics server
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Ping, l)

	// run; the scheduler is stopped explicitly so an in-flight run can finish
	if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
		l.Fatal("scheduler start", zap.Error(err))
	}

	<-ctx.Done()
	l.Info("shutting down")

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := sched.Stop(shCtx); err != nil && !errors.Is(err, scheduler.ErrForcedStop) {
		l.Error("scheduler stop", zap.Error(err))
	}
	relayCancel()
	if relay != nil {
		relay.Wait()
	}
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
