package gateway

import (
	"testing"

	"github.com/shopspring/decimal"

	"exchange-connector-go/order"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParsePushEventOrderUpdate(t *testing.T) {
	raw := []byte(`{"type":"order_update","data":{
		"client_order_id":"c1","exchange_order_id":"e1",
		"trading_pair":"ETH-USDC","status":"PARTIALLY_FILLED","ts":1700000000000,
		"venue_specific_field":"ignored"}}`)

	ev, err := ParsePushEvent(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if ev.Kind != KindOrderUpdate {
		t.Fatalf("kind = %d, want order update", ev.Kind)
	}
	u := ev.OrderUpdate
	if u.ClientOrderID != "c1" || u.ExchangeOrderID != "e1" {
		t.Fatalf("ids not parsed: %+v", u)
	}
	if u.NewState != order.StatePartiallyFilled {
		t.Fatalf("state = %s", u.NewState)
	}
	if u.Timestamp.IsZero() {
		t.Fatalf("timestamp not parsed")
	}
}

func TestParsePushEventRejectionCarriesReason(t *testing.T) {
	raw := []byte(`{"type":"order_update","data":{
		"client_order_id":"c1","status":"REJECTED","reason":"insufficient balance","ts":1700000000000}}`)

	ev, err := ParsePushEvent(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	u := ev.OrderUpdate
	if u.NewState != order.StateFailed {
		t.Fatalf("state = %s, want FAILED", u.NewState)
	}
	if got, _ := u.Misc["reason"].(string); got != "insufficient balance" {
		t.Fatalf("reason = %q, want venue reason", got)
	}
}

func TestParsePushEventTrade(t *testing.T) {
	raw := []byte(`{"type":"trade","data":{
		"trade_id":"t1","exchange_order_id":"e1","trading_pair":"ETH-USDC",
		"base_amount":"4","quote_amount":"8000","price":"2000",
		"fee":"0.8","fee_asset":"USDC","ts":1700000000000,"is_taker":true}}`)

	ev, err := ParsePushEvent(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if ev.Kind != KindFill {
		t.Fatalf("kind = %d, want fill", ev.Kind)
	}
	f := ev.Fill
	if f.TradeID != "t1" || !f.BaseAmount.Equal(dec("4")) || !f.IsTaker {
		t.Fatalf("fill not parsed: %+v", f)
	}
}

func TestParsePushEventFailClosed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"garbage", `not json`},
		{"unknown type", `{"type":"funding","data":{}}`},
		{"update without ids", `{"type":"order_update","data":{"status":"OPEN"}}`},
		{"unknown status", `{"type":"order_update","data":{"client_order_id":"c1","status":"WAT"}}`},
		{"trade without trade_id", `{"type":"trade","data":{"client_order_id":"c1","base_amount":"1"}}`},
		{"trade without base amount", `{"type":"trade","data":{"trade_id":"t1","client_order_id":"c1"}}`},
		{"trade with bad number", `{"type":"trade","data":{"trade_id":"t1","client_order_id":"c1","base_amount":"abc"}}`},
	}
	for _, tc := range cases {
		if _, err := ParsePushEvent([]byte(tc.raw)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestParsePushEventBalance(t *testing.T) {
	raw := []byte(`{"type":"balance","data":{"asset":"USDC","total":"100.5","available":"90"}}`)
	ev, err := ParsePushEvent(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if ev.Kind != KindBalance || ev.Balance.Asset != "USDC" {
		t.Fatalf("balance not parsed: %+v", ev)
	}
}
