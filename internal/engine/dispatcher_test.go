package engine

import (
	"context"
	"testing"
	"time"

	"exchange-connector-go/gateway"
	"exchange-connector-go/order"
)

func trackOrder(t *testing.T, tracker *order.Tracker, id string, amount string) {
	t.Helper()
	err := tracker.Track(order.Order{
		ClientOrderID: id,
		TradingPair:   "ETH-USDC",
		Side:          order.SideBuy,
		Type:          order.TypeLimit,
		Price:         dec("2000"),
		Amount:        dec(amount),
		State:         order.StatePendingCreate,
		CreationTime:  time.Now(),
	})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
}

func waitForState(t *testing.T, tracker *order.Tracker, id string, want order.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o, ok := tracker.Get(id); ok && o.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	o, _ := tracker.Get(id)
	t.Fatalf("order %s state = %s, want %s", id, o.State, want)
}

func TestDispatcherAppliesPushUpdates(t *testing.T) {
	tracker := newTestTracker()
	trackOrder(t, tracker, "c1", "10")

	source := newFakeSource()
	d := NewDispatcher(DispatcherConfig{}, &fakeVenue{}, source, tracker, nil, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	// 坏消息只丢弃该条，循环继续
	source.ch <- []byte(`garbage`)
	source.ch <- []byte(`{"type":"order_update","data":{
		"client_order_id":"c1","exchange_order_id":"e1","status":"OPEN","ts":1700000000000}}`)

	waitForState(t, tracker, "c1", order.StateOpen)
}

func TestDispatcherAppliesPushFills(t *testing.T) {
	tracker := newTestTracker()
	trackOrder(t, tracker, "c1", "10")
	_ = tracker.ProcessUpdate(order.Update{
		ClientOrderID: "c1", NewState: order.StateOpen, Timestamp: time.Now(),
	})

	source := newFakeSource()
	d := NewDispatcher(DispatcherConfig{}, &fakeVenue{}, source, tracker, nil, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	source.ch <- []byte(`{"type":"trade","data":{
		"trade_id":"t1","client_order_id":"c1","base_amount":"10","quote_amount":"20000",
		"price":"2000","fee":"2","fee_asset":"USDC","ts":1700000000000}}`)

	waitForState(t, tracker, "c1", order.StateFilled)
}

func TestDispatcherBalanceHandler(t *testing.T) {
	tracker := newTestTracker()
	source := newFakeSource()
	d := NewDispatcher(DispatcherConfig{}, &fakeVenue{}, source, tracker, nil, nil)

	got := make(chan gateway.BalanceUpdate, 1)
	d.BalanceHandler = func(b gateway.BalanceUpdate) { got <- b }

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	source.ch <- []byte(`{"type":"balance","data":{"asset":"USDC","total":"100","available":"90"}}`)

	select {
	case b := <-got:
		if b.Asset != "USDC" {
			t.Fatalf("asset = %s", b.Asset)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("balance handler not invoked")
	}
}

func TestPollIntervalFollowsPushFreshness(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	cfg := DispatcherConfig{
		ShortPollInterval:   5 * time.Second,
		LongPollInterval:    120 * time.Second,
		PushFreshnessWindow: 60 * time.Second,
	}
	d := NewDispatcher(cfg, &fakeVenue{}, newFakeSource(), newTestTracker(), clock, nil)

	if iv, tier := d.currentPollInterval(); iv != cfg.LongPollInterval || tier != "long" {
		t.Fatalf("fresh push should use long interval, got %v/%s", iv, tier)
	}

	clock.advance(61 * time.Second)
	if iv, tier := d.currentPollInterval(); iv != cfg.ShortPollInterval || tier != "short" {
		t.Fatalf("stale push should use short interval, got %v/%s", iv, tier)
	}

	// 新推送到达后恢复长间隔
	d.lastPushNano.Store(clock.Now().UnixNano())
	if _, tier := d.currentPollInterval(); tier != "long" {
		t.Fatalf("tier after fresh push = %s", tier)
	}
}

func TestPollOnceStatusAndFills(t *testing.T) {
	tracker := newTestTracker()
	trackOrder(t, tracker, "c1", "10")

	fillTime := time.Now().Add(time.Second)
	venue := &fakeVenue{
		statusFn: func(o order.Order) (order.Update, error) {
			return order.Update{NewState: order.StateOpen, Timestamp: time.Now()}, nil
		},
		fillsFn: func(orders []order.Order, since time.Time) ([]order.Fill, error) {
			return []order.Fill{{
				TradeID:       "t1",
				ClientOrderID: "c1",
				BaseAmount:    dec("10"),
				QuoteAmount:   dec("20000"),
				Price:         dec("2000"),
				Timestamp:     fillTime,
			}}, nil
		},
	}
	d := NewDispatcher(DispatcherConfig{}, venue, nil, tracker, nil, nil)

	if err := d.pollOnce(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	o, _ := tracker.Get("c1")
	if o.State != order.StateFilled {
		t.Fatalf("state = %s, want FILLED", o.State)
	}
	// 成交低水位前移
	if !d.lastFillPoll.Equal(fillTime) {
		t.Fatalf("fill low-water mark not advanced: %v", d.lastFillPoll)
	}
}

func TestPollOnceNotFoundEscalates(t *testing.T) {
	tracker := newTestTracker()
	trackOrder(t, tracker, "c1", "10")

	venue := &fakeVenue{
		statusFn: func(o order.Order) (order.Update, error) {
			return order.Update{}, gateway.ErrOrderNotFound
		},
	}
	d := NewDispatcher(DispatcherConfig{}, venue, nil, tracker, nil, nil)

	for i := 0; i < order.DefaultNotFoundLimit; i++ {
		if err := d.pollOnce(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	o, _ := tracker.Get("c1")
	if o.State != order.StateFailed {
		t.Fatalf("state after repeated not-found = %s, want FAILED", o.State)
	}
}
