package events

import (
	"testing"

	"exchange-connector-go/order"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	sub1 := b.SubscribeOrders(4)
	sub2 := b.SubscribeOrders(4)

	b.OrderChanged(order.Order{ClientOrderID: "a", State: order.StateOpen}, order.StatePendingCreate)

	for i, sub := range []<-chan OrderEvent{sub1, sub2} {
		select {
		case ev := <-sub:
			if ev.Order.ClientOrderID != "a" || ev.Previous != order.StatePendingCreate {
				t.Fatalf("sub%d got unexpected event %+v", i+1, ev)
			}
		default:
			t.Fatalf("sub%d received nothing", i+1)
		}
	}
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	_ = b.SubscribeFills(1)

	// 缓冲满后发布必须立即返回
	for i := 0; i < 10; i++ {
		b.OrderFilled(order.Order{ClientOrderID: "a"}, order.Fill{TradeID: "t"})
	}
}
