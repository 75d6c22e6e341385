package events

import (
	"sync"

	"exchange-connector-go/order"
)

// OrderEvent 订单状态变化通知。
type OrderEvent struct {
	Order    order.Order
	Previous order.State
}

// FillEvent 成交通知。
type FillEvent struct {
	Order order.Order
	Fill  order.Fill
}

// Bus 一个轻量事件分发器。发布非阻塞：慢消费者丢最新事件，
// 订单的权威状态始终以 Tracker 为准。
type Bus struct {
	mu        sync.RWMutex
	orderSubs []chan OrderEvent
	fillSubs  []chan FillEvent
}

func NewBus() *Bus {
	return &Bus{
		orderSubs: make([]chan OrderEvent, 0),
		fillSubs:  make([]chan FillEvent, 0),
	}
}

// SubscribeOrders 订阅订单状态变化。
func (b *Bus) SubscribeOrders(buffer int) <-chan OrderEvent {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan OrderEvent, buffer)
	b.mu.Lock()
	b.orderSubs = append(b.orderSubs, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeFills 订阅成交。
func (b *Bus) SubscribeFills(buffer int) <-chan FillEvent {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan FillEvent, buffer)
	b.mu.Lock()
	b.fillSubs = append(b.fillSubs, ch)
	b.mu.Unlock()
	return ch
}

// OrderChanged 实现 order.Notifier。
func (b *Bus) OrderChanged(o order.Order, previous order.State) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev := OrderEvent{Order: o, Previous: previous}
	for _, ch := range b.orderSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// OrderFilled 实现 order.Notifier。
func (b *Bus) OrderFilled(o order.Order, f order.Fill) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev := FillEvent{Order: o, Fill: f}
	for _, ch := range b.fillSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}
