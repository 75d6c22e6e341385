package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"exchange-connector-go/gateway"
	"exchange-connector-go/order"
)

func limitSpec(amount string) gateway.OrderSpec {
	return gateway.OrderSpec{
		TradingPair: "ETH-USDC",
		Side:        order.SideBuy,
		Type:        order.TypeLimit,
		Price:       dec("2000"),
		Amount:      dec(amount),
	}
}

func TestSubmitOrderSyncConfirm(t *testing.T) {
	tracker := newTestTracker()
	venue := &fakeVenue{}
	s := NewSubmitter(SubmitterConfig{ConfirmOnPlace: true, IDPrefix: "mm"},
		venue, nil, tracker, nil, nil, nil)

	id, err := s.SubmitOrder(context.Background(), limitSpec("10"))
	if err != nil {
		t.Fatalf("submit err: %v", err)
	}
	o, ok := tracker.Get(id)
	if !ok {
		t.Fatalf("order not tracked")
	}
	if o.State != order.StateOpen {
		t.Fatalf("state = %s, want OPEN", o.State)
	}
	if o.ExchangeOrderID != "x-"+id {
		t.Fatalf("exchange id not recorded: %q", o.ExchangeOrderID)
	}
	if venue.placedCount() != 1 {
		t.Fatalf("venue calls = %d", venue.placedCount())
	}
}

func TestSubmitOrderValidationFailure(t *testing.T) {
	tracker := newTestTracker()
	venue := &fakeVenue{}
	rules := fixedRules{"ETH-USDC": {
		TradingPair:  "ETH-USDC",
		MinOrderSize: dec("1"),
	}}
	s := NewSubmitter(SubmitterConfig{ConfirmOnPlace: true}, venue, rules, tracker, nil, nil, nil)

	id, err := s.SubmitOrder(context.Background(), limitSpec("0.5"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if venue.placedCount() != 0 {
		t.Fatalf("venue must not be called for invalid order")
	}
	// 失败订单仍可查询，带有失败原因
	o, ok := tracker.Get(id)
	if !ok || o.State != order.StateFailed {
		t.Fatalf("order = %+v, want FAILED", o)
	}
	if o.FailureReason == "" {
		t.Fatalf("failure reason missing")
	}
}

func TestSubmitterRestartAfterStop(t *testing.T) {
	tracker := newTestTracker()
	venue := &fakeVenue{}
	s := NewSubmitter(SubmitterConfig{
		BatchingEnabled: true,
		FlushInterval:   10 * time.Millisecond,
	}, venue, nil, tracker, nil, nil, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// 复启后flush循环必须照常运转
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := s.SubmitOrder(context.Background(), limitSpec("10")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && venue.batchPlaceCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if venue.batchPlaceCount() == 0 {
		t.Fatalf("flush loop not running after restart")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestBatchFlushPartialFailure(t *testing.T) {
	tracker := newTestTracker()
	venue := &fakeVenue{
		placeFn: func(o order.Order) order.PlaceResult {
			if o.TradingPair == "BAD-USDC" {
				return order.PlaceResult{ClientOrderID: o.ClientOrderID, Err: fmt.Errorf("rejected")}
			}
			return order.PlaceResult{ClientOrderID: o.ClientOrderID, ExchangeOrderID: "x-" + o.ClientOrderID}
		},
	}
	s := NewSubmitter(SubmitterConfig{BatchingEnabled: true, ConfirmOnPlace: true},
		venue, nil, tracker, nil, nil, nil)

	ids := make([]string, 0, 3)
	for _, pair := range []string{"ETH-USDC", "BAD-USDC", "BTC-USDC"} {
		spec := limitSpec("10")
		spec.TradingPair = pair
		id, err := s.SubmitOrder(context.Background(), spec)
		if err != nil {
			t.Fatalf("submit %s: %v", pair, err)
		}
		ids = append(ids, id)
	}
	if venue.placedCount() != 0 {
		t.Fatalf("batched orders must not hit venue before flush")
	}

	s.Flush(context.Background())

	wantStates := []order.State{order.StateOpen, order.StateFailed, order.StateOpen}
	for i, id := range ids {
		o, _ := tracker.Get(id)
		if o.State != wantStates[i] {
			t.Errorf("order %d state = %s, want %s", i, o.State, wantStates[i])
		}
	}
	if venue.batchPlaces != 1 {
		t.Fatalf("batch place calls = %d, want 1", venue.batchPlaces)
	}

	// 队列已整体换出
	if c, _ := s.PendingQueueSizes(); c != 0 {
		t.Fatalf("pending creates after flush = %d", c)
	}
}

func TestSubmitOrderAssertsPregenID(t *testing.T) {
	tracker := newTestTracker()
	venue := &fakeVenue{
		placeFn: func(o order.Order) order.PlaceResult {
			return order.PlaceResult{
				ClientOrderID: o.ClientOrderID,
				Misc:          map[string]interface{}{"creation_transaction_hash": "0xabc"},
			}
		},
	}
	hashes := NewHashGenerator("acct-1")
	s := NewSubmitter(SubmitterConfig{}, venue, nil, tracker, hashes, nil, nil)

	id, err := s.SubmitOrder(context.Background(), limitSpec("10"))
	if err != nil {
		t.Fatalf("submit err: %v", err)
	}
	o, _ := tracker.Get(id)
	if o.ExchangeOrderID == "" {
		t.Fatalf("asserted exchange id missing")
	}
	if o.State != order.StatePendingCreate {
		t.Fatalf("state = %s, want PENDING_CREATE until settlement", o.State)
	}
	if o.CreationTxHash != "0xabc" {
		t.Fatalf("creation tx hash = %q", o.CreationTxHash)
	}
}

func TestCancelOrderUnknownIsNotFound(t *testing.T) {
	tracker := newTestTracker()
	venue := &fakeVenue{}
	s := NewSubmitter(SubmitterConfig{}, venue, nil, tracker, nil, nil, nil)

	res := s.CancelOrder(context.Background(), "nope")
	if !res.NotFound {
		t.Fatalf("expected not-found result")
	}
	venue.mu.Lock()
	n := len(venue.canceled)
	venue.mu.Unlock()
	if n != 0 {
		t.Fatalf("venue must not be called for unknown order")
	}
}

func TestCancelOrderSync(t *testing.T) {
	tracker := newTestTracker()
	venue := &fakeVenue{}
	s := NewSubmitter(SubmitterConfig{ConfirmOnPlace: true, SyncCancel: true},
		venue, nil, tracker, nil, nil, nil)

	id, _ := s.SubmitOrder(context.Background(), limitSpec("10"))
	res := s.CancelOrder(context.Background(), id)
	if res.NotFound || res.Err != nil {
		t.Fatalf("cancel result: %+v", res)
	}
	o, _ := tracker.Get(id)
	if o.State != order.StateCanceled {
		t.Fatalf("state = %s, want CANCELED", o.State)
	}
}

func TestCancelAll(t *testing.T) {
	tracker := newTestTracker()
	venue := &fakeVenue{}
	s := NewSubmitter(SubmitterConfig{ConfirmOnPlace: true, SyncCancel: true},
		venue, nil, tracker, nil, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := s.SubmitOrder(context.Background(), limitSpec("10")); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	results := s.CancelAll(context.Background(), time.Second)
	if len(results) != 3 {
		t.Fatalf("cancel results = %d, want 3", len(results))
	}
	if len(tracker.Active()) != 0 {
		t.Fatalf("active orders remain after cancel all")
	}
}
