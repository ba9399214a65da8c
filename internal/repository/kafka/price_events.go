package kafka

import (
	"context"

	"github.com/NordCoder/Pricewatch/internal/domain/kafka"
)

type PriceEventsKafka struct {
	p *Producer
}

func NewPriceEventsKafka(p *Producer) *PriceEventsKafka { return &PriceEventsKafka{p: p} }

var _ kafka.PriceEvents = (*PriceEventsKafka)(nil)

// PublishPriceDropped keys by user so one user's drops stay ordered within a partition.
func (e *PriceEventsKafka) PublishPriceDropped(ctx context.Context, ev kafka.PriceDropped) error {
	return e.p.PublishJSON(ctx, KeyFromInt64(ev.UserID), ev)
}
