package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"exchange-connector-go/gateway"
	"exchange-connector-go/order"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeVenue 可编程的交易所适配器桩
type fakeVenue struct {
	mu sync.Mutex

	placeFn  func(o order.Order) order.PlaceResult
	cancelFn func(o order.Order) order.CancelResult
	statusFn func(o order.Order) (order.Update, error)
	fillsFn  func(orders []order.Order, since time.Time) ([]order.Fill, error)
	txFn     func(txHash string) (map[string]struct{}, error)

	placed       []order.Order
	canceled     []order.Order
	batchPlaces  int
	batchCancels int
}

func (v *fakeVenue) PlaceOrder(_ context.Context, o order.Order) order.PlaceResult {
	v.mu.Lock()
	v.placed = append(v.placed, o)
	fn := v.placeFn
	v.mu.Unlock()
	if fn != nil {
		return fn(o)
	}
	return order.PlaceResult{ClientOrderID: o.ClientOrderID, ExchangeOrderID: "x-" + o.ClientOrderID}
}

func (v *fakeVenue) CancelOrder(_ context.Context, o order.Order) order.CancelResult {
	v.mu.Lock()
	v.canceled = append(v.canceled, o)
	fn := v.cancelFn
	v.mu.Unlock()
	if fn != nil {
		return fn(o)
	}
	return order.CancelResult{ClientOrderID: o.ClientOrderID}
}

func (v *fakeVenue) BatchPlace(ctx context.Context, orders []order.Order) []order.PlaceResult {
	v.mu.Lock()
	v.batchPlaces++
	v.mu.Unlock()
	results := make([]order.PlaceResult, 0, len(orders))
	for _, o := range orders {
		results = append(results, v.PlaceOrder(ctx, o))
	}
	return results
}

func (v *fakeVenue) BatchCancel(ctx context.Context, orders []order.Order) []order.CancelResult {
	v.mu.Lock()
	v.batchCancels++
	v.mu.Unlock()
	results := make([]order.CancelResult, 0, len(orders))
	for _, o := range orders {
		results = append(results, v.CancelOrder(ctx, o))
	}
	return results
}

func (v *fakeVenue) OrderStatus(_ context.Context, o order.Order) (order.Update, error) {
	v.mu.Lock()
	fn := v.statusFn
	v.mu.Unlock()
	if fn != nil {
		return fn(o)
	}
	return order.Update{ClientOrderID: o.ClientOrderID, NewState: o.State, Timestamp: time.Now()}, nil
}

func (v *fakeVenue) Fills(_ context.Context, orders []order.Order, since time.Time) ([]order.Fill, error) {
	v.mu.Lock()
	fn := v.fillsFn
	v.mu.Unlock()
	if fn != nil {
		return fn(orders, since)
	}
	return nil, nil
}

func (v *fakeVenue) TransactionResult(_ context.Context, txHash string) (map[string]struct{}, error) {
	v.mu.Lock()
	fn := v.txFn
	v.mu.Unlock()
	if fn != nil {
		return fn(txHash)
	}
	return nil, gateway.ErrTxNotIncluded
}

func (v *fakeVenue) placedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.placed)
}

func (v *fakeVenue) batchPlaceCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.batchPlaces
}

// fakeClock 可推进的时钟桩
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource 从channel出让推送消息
type fakeSource struct {
	ch chan []byte
}

func newFakeSource() *fakeSource { return &fakeSource{ch: make(chan []byte, 16)} }

func (s *fakeSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.ch:
		return msg, nil
	}
}

// fixedRules 固定交易规则表
type fixedRules map[string]order.TradingRule

func (r fixedRules) RuleFor(pair string) (order.TradingRule, bool) {
	rule, ok := r[pair]
	return rule, ok
}

func newTestTracker() *order.Tracker {
	return order.NewTracker(order.TrackerConfig{}, nil, nil)
}
