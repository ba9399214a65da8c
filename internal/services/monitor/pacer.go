package monitor

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

type PacerConfig struct {
	Min time.Duration
	Max time.Duration
	// RatePerSecond caps fetches across all workers; zero means no ceiling.
	RatePerSecond float64
	Burst         int
}

// Pacer spaces outbound fetches: an overall rate ceiling followed by a random delay in [Min, Max].
type Pacer struct {
	min, max time.Duration
	limiter  *rate.Limiter
	randN    func(n int64) int64
}

func NewPacer(cfg PacerConfig) *Pacer {
	if cfg.Min < 0 {
		cfg.Min = 0
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	p := &Pacer{min: cfg.Min, max: cfg.Max, randN: rand.Int63n}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return p
}

func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	d := p.delay()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Pacer) delay() time.Duration {
	span := int64(p.max - p.min)
	if span <= 0 {
		return p.min
	}
	return p.min + time.Duration(p.randN(span+1))
}
