package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domain "github.com/NordCoder/Pricewatch/internal/domain/kafka"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishPriceDropped_KeyedByUser(t *testing.T) {
	w := &fakeWriter{}
	p := (&Producer{w: w, topic: "pricewatch.price.dropped"}).WithLogger(zaptest.NewLogger(t))
	ev := domain.PriceDropped{
		NotificationID: 9,
		UserID:         42,
		ItemID:         3,
		ProductRef:     "B01",
		OldPrice:       decimal.RequireFromString("100.00"),
		NewPrice:       decimal.RequireFromString("89.99"),
		At:             time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, NewPriceEventsKafka(p).PublishPriceDropped(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))

	var got domain.PriceDropped
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, ev.NotificationID, got.NotificationID)
	assert.True(t, got.NewPrice.Equal(ev.NewPrice))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "application/json", headers["content-type"])
}

func TestPublishJSON_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := (&Producer{w: w, topic: "t"}).WithLogger(zaptest.NewLogger(t))

	err := p.PublishJSON(context.Background(), KeyFromInt64(1), map[string]int{"a": 1})
	require.Error(t, err)
}

func TestPublishJSON_MarshalError(t *testing.T) {
	w := &fakeWriter{}
	p := (&Producer{w: w, topic: "t"}).WithLogger(zaptest.NewLogger(t))

	err := p.PublishJSON(context.Background(), nil, make(chan int))
	require.Error(t, err)
	assert.Empty(t, w.msgs)
}

func TestEnsureTopic_NoBrokers(t *testing.T) {
	err := EnsureTopic(context.Background(), nil, TopicSpec{Name: "t"}, nil)
	require.ErrorIs(t, err, errNoBrokers)
}
