package monitor_config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NordCoder/Pricewatch/internal/obs"
	"github.com/NordCoder/Pricewatch/internal/outbox"
	kafkaRepo "github.com/NordCoder/Pricewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Pricewatch/internal/repository/postgres"
	"github.com/NordCoder/Pricewatch/internal/repository/scraper"
	"github.com/NordCoder/Pricewatch/internal/services/monitor"
	"github.com/NordCoder/Pricewatch/internal/services/scheduler"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Monitor struct {
	CheckIntervalSeconds  int     `mapstructure:"check_interval_seconds"`
	StaleThresholdSeconds int     `mapstructure:"stale_threshold_seconds"`
	MaxItemsPerRun        int     `mapstructure:"max_items_per_run"`
	PriceDropThreshold    float64 `mapstructure:"price_drop_threshold"`
	FetchTimeoutSeconds   int     `mapstructure:"fetch_timeout_seconds"`
	PacingMinSeconds      float64 `mapstructure:"pacing_min_seconds"`
	PacingMaxSeconds      float64 `mapstructure:"pacing_max_seconds"`
	PacingRatePerSecond   float64 `mapstructure:"pacing_rate_per_second"`
	PacingBurst           int     `mapstructure:"pacing_burst"`
	Workers               int     `mapstructure:"workers"`
	JitterSeconds         int     `mapstructure:"jitter_seconds"`
	MisfireGraceSeconds   int     `mapstructure:"misfire_grace_seconds"`
	StopTimeoutSeconds    int     `mapstructure:"stop_timeout_seconds"`
	FireOnStart           bool    `mapstructure:"fire_on_start"`
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func (m *Monitor) AsEngineConfig() monitor.Config {
	return monitor.Config{
		StaleThreshold: seconds(float64(m.StaleThresholdSeconds)),
		MaxItemsPerRun: m.MaxItemsPerRun,
		DropThreshold:  decimal.NewFromFloat(m.PriceDropThreshold),
		Workers:        m.Workers,
	}
}

func (m *Monitor) AsSchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:     seconds(float64(m.CheckIntervalSeconds)),
		Jitter:       seconds(float64(m.JitterSeconds)),
		MisfireGrace: seconds(float64(m.MisfireGraceSeconds)),
		StopTimeout:  seconds(float64(m.StopTimeoutSeconds)),
		FireOnStart:  m.FireOnStart,
	}
}

func (m *Monitor) AsPacerConfig() monitor.PacerConfig {
	return monitor.PacerConfig{
		Min:           seconds(m.PacingMinSeconds),
		Max:           seconds(m.PacingMaxSeconds),
		RatePerSecond: m.PacingRatePerSecond,
		Burst:         m.PacingBurst,
	}
}

type Cache struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type Kafka struct {
	Enable     bool     `mapstructure:"enable"`
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	Partitions int      `mapstructure:"partitions"`
}

func (k *Kafka) AsProducerConfig() kafkaRepo.ProducerConfig {
	return kafkaRepo.ProducerConfig{Brokers: k.Brokers, Topic: k.Topic, Partitions: k.Partitions}
}

type Server struct {
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig(version string) obs.OTELConfig {
	return obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		Version:     version,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (lc *Log) AsLoggerConfig(app App) obs.LogConfig {
	return obs.LogConfig{
		Level:  lc.Level,
		Pretty: lc.Pretty,
		App:    "pricewatch/" + app.Name,
		Env:    app.Env,
		Ver:    app.Version,
		Global: true,
	}
}

type Config struct {
	App     App            `mapstructure:"app"`
	Monitor Monitor        `mapstructure:"monitor"`
	Cache   Cache          `mapstructure:"cache"`
	Fetch   scraper.Config `mapstructure:"fetch"`
	DB      pg.Config      `mapstructure:"db"`
	Kafka   Kafka          `mapstructure:"kafka"`
	Outbox  outbox.Config  `mapstructure:"outbox"`
	Server  Server         `mapstructure:"server"`
	OTEL    OTEL           `mapstructure:"otel"`
	Log     Log            `mapstructure:"log"`
}

// AsScraperConfig applies the monitor's fetch timeout on top of the fetch section.
func (c *Config) AsScraperConfig() scraper.Config {
	sc := c.Fetch
	sc.Timeout = seconds(float64(c.Monitor.FetchTimeoutSeconds))
	return sc
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

func (c *Config) Validate() error {
	m := c.Monitor
	switch {
	case m.CheckIntervalSeconds <= 0:
		return ErrConfig("monitor.check_interval_seconds must be positive")
	case m.StaleThresholdSeconds < 0:
		return ErrConfig("monitor.stale_threshold_seconds must not be negative")
	case m.MaxItemsPerRun <= 0:
		return ErrConfig("monitor.max_items_per_run must be positive")
	case m.PriceDropThreshold < 0 || m.PriceDropThreshold >= 1:
		return ErrConfig(fmt.Sprintf("monitor.price_drop_threshold must be in [0,1), got %v", m.PriceDropThreshold))
	case m.FetchTimeoutSeconds <= 0:
		return ErrConfig("monitor.fetch_timeout_seconds must be positive")
	case m.PacingMinSeconds < 0 || m.PacingMaxSeconds < m.PacingMinSeconds:
		return ErrConfig("monitor.pacing_min_seconds must be within [0, pacing_max_seconds]")
	case m.Workers < 1 || m.Workers > 16:
		return ErrConfig(fmt.Sprintf("monitor.workers must be in 1..16, got %d", m.Workers))
	case m.JitterSeconds < 0 || m.MisfireGraceSeconds < 0 || m.StopTimeoutSeconds < 0:
		return ErrConfig("monitor jitter, misfire grace and stop timeout must not be negative")
	case c.Cache.Size <= 0 || c.Cache.TTL <= 0:
		return ErrConfig("cache.size and cache.ttl must be positive")
	case c.DB.DSN == "":
		return ErrConfig("db.dsn is empty")
	case c.Kafka.Enable && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == ""):
		return ErrConfig("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}
