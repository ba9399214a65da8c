package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NordCoder/Pricewatch/internal/domain/item"
	"github.com/NordCoder/Pricewatch/internal/domain/notification"
	"github.com/NordCoder/Pricewatch/internal/domain/outbox"
	"github.com/NordCoder/Pricewatch/internal/domain/price"
	"github.com/NordCoder/Pricewatch/internal/repository/postgres"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore backs every persistence port in memory. WithTx serializes transactions and restores
// the previous state when the function fails.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	items   map[int64]*item.TrackedItem
	notifs  []*notification.Notification
	outbox  map[string]outbox.Message
	nextNID int64

	failSelect error
	failUpdate error
	failInsert error
}

var (
	_ item.Repo           = (*fakeStore)(nil)
	_ notification.Repo   = (*fakeStore)(nil)
	_ outbox.Repository   = (*fakeStore)(nil)
	_ postgres.Transactor = (*fakeStore)(nil)
)

func newFakeStore(items ...*item.TrackedItem) *fakeStore {
	s := &fakeStore{items: map[int64]*item.TrackedItem{}, outbox: map[string]outbox.Message{}}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

func tracked(id, user int64, ref string, last string) *item.TrackedItem {
	it := &item.TrackedItem{ID: id, UserID: user, ProductRef: ref, ProductName: "product " + ref}
	if last != "" {
		it.LastKnownPrice = decimal.NewNullDecimal(decimal.RequireFromString(last))
	}
	return it
}

func cloneItem(it *item.TrackedItem) *item.TrackedItem {
	cp := *it
	if it.LastCheckedAt != nil {
		t := *it.LastCheckedAt
		cp.LastCheckedAt = &t
	}
	return &cp
}

func (s *fakeStore) itemByID(id int64) *item.TrackedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil
	}
	return cloneItem(it)
}

func (s *fakeStore) remove(id int64) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

func (s *fakeStore) notifications() []*notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*notification.Notification(nil), s.notifs...)
}

func (s *fakeStore) outboxLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	items := make(map[int64]*item.TrackedItem, len(s.items))
	for id, it := range s.items {
		items[id] = cloneItem(it)
	}
	notifs := append([]*notification.Notification(nil), s.notifs...)
	ob := make(map[string]outbox.Message, len(s.outbox))
	for k, v := range s.outbox {
		ob[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.items, s.notifs, s.outbox = items, notifs, ob
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) SelectStale(_ context.Context, limit int, olderThan time.Time) ([]*item.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSelect != nil {
		return nil, s.failSelect
	}
	var out []*item.TrackedItem
	for _, it := range s.items {
		if it.LastCheckedAt == nil || it.LastCheckedAt.Before(olderThan) {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastCheckedAt == nil && b.LastCheckedAt != nil:
			return true
		case a.LastCheckedAt != nil && b.LastCheckedAt == nil:
			return false
		case a.LastCheckedAt != nil && !a.LastCheckedAt.Equal(*b.LastCheckedAt):
			return a.LastCheckedAt.Before(*b.LastCheckedAt)
		}
		return a.ID < b.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetForUpdate(_ context.Context, id int64) (*item.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return cloneItem(it), nil
}

func (s *fakeStore) UpdateChecked(_ context.Context, id int64, p decimal.NullDecimal, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		return s.failUpdate
	}
	it, ok := s.items[id]
	if !ok {
		return postgres.ErrNotFound
	}
	if p.Valid {
		it.LastKnownPrice = p
	}
	if it.LastCheckedAt == nil || checkedAt.After(*it.LastCheckedAt) {
		t := checkedAt
		it.LastCheckedAt = &t
	}
	return nil
}

func (s *fakeStore) Insert(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert != nil {
		return s.failInsert
	}
	if !n.NewPrice.LessThan(n.OldPrice) {
		return errors.New("notification must record a decrease")
	}
	s.nextNID++
	n.ID = s.nextNID
	cp := *n
	s.notifs = append(s.notifs, &cp)
	return nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID int64, limit int) ([]*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notification.Notification
	for i := len(s.notifs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notifs[i].UserID == userID {
			out = append(out, s.notifs[i])
		}
	}
	return out, nil
}

func (s *fakeStore) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outbox[key]; ok {
		return nil
	}
	s.outbox[key] = outbox.Message{IdempotencyKey: key, Kind: kind, Data: data, Status: outbox.StatusCreated}
	return nil
}

func (s *fakeStore) PickBatch(context.Context, int, time.Duration) ([]outbox.Message, error) {
	return nil, nil
}

func (s *fakeStore) MarkSuccess(context.Context, []string) error { return nil }

type fetchFunc func(ctx context.Context, ref string) price.Observation

// fakeSource counts calls per ref and answers from a script.
type fakeSource struct {
	mu     sync.Mutex
	calls  map[string]int
	script map[string]fetchFunc
	clock  *fakeClock
}

func newFakeSource(clock *fakeClock) *fakeSource {
	return &fakeSource{calls: map[string]int{}, script: map[string]fetchFunc{}, clock: clock}
}

func (s *fakeSource) price(ref, p string) *fakeSource {
	s.script[ref] = func(context.Context, string) price.Observation {
		return price.Success(ref, decimal.RequireFromString(p), s.clock.Now())
	}
	return s
}

func (s *fakeSource) fail(ref string, o price.Outcome, err error) *fakeSource {
	s.script[ref] = func(context.Context, string) price.Observation {
		return price.Failure(ref, o, err, s.clock.Now())
	}
	return s
}

func (s *fakeSource) on(ref string, fn fetchFunc) *fakeSource {
	s.script[ref] = fn
	return s
}

func (s *fakeSource) Fetch(ctx context.Context, ref string) price.Observation {
	s.mu.Lock()
	s.calls[ref]++
	fn, ok := s.script[ref]
	s.mu.Unlock()
	if !ok {
		return price.Failure(ref, price.OutcomeNotFound, errors.New("unknown product"), s.clock.Now())
	}
	return fn(ctx, ref)
}

func (s *fakeSource) callsFor(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[ref]
}
