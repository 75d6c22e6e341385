package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exchange-connector-go/gateway"
	"exchange-connector-go/order"
)

// MockVenue 模拟交易所（用于集成测试）：
// 内存订单簿 + 可编程的成交/结算结果，推送通道实现 PushSource。
type MockVenue struct {
	mu sync.RWMutex

	// 订单存储
	orders map[string]*mockOrder

	// 成交与结算
	fills        []order.Fill
	transactions map[string]map[string]struct{}

	// 推送通道
	pushChan chan []byte

	// 下单结果附带的结算交易哈希（链上结算场景）
	txHashOnPlace string

	// 统计
	placeCount  int
	cancelCount int
	queryCount  int
}

type mockOrder struct {
	clientOrderID   string
	exchangeOrderID string
	tradingPair     string
	status          string
}

// NewMockVenue 创建模拟交易所。
func NewMockVenue() *MockVenue {
	return &MockVenue{
		orders:       make(map[string]*mockOrder),
		transactions: make(map[string]map[string]struct{}),
		pushChan:     make(chan []byte, 64),
	}
}

// Next 实现 gateway.PushSource。
func (m *MockVenue) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-m.pushChan:
		return msg, nil
	}
}

// Push 注入一条推送消息。
func (m *MockVenue) Push(raw string) {
	m.pushChan <- []byte(raw)
}

// AddFill 注入一条可轮询到的成交。
func (m *MockVenue) AddFill(f order.Fill) {
	m.mu.Lock()
	m.fills = append(m.fills, f)
	m.mu.Unlock()
}

// SetPlaceTxHash 让后续下单结果携带结算交易哈希。
func (m *MockVenue) SetPlaceTxHash(txHash string) {
	m.mu.Lock()
	m.txHashOnPlace = txHash
	m.mu.Unlock()
}

// SetTransaction 设置结算交易包含的订单号集合。
func (m *MockVenue) SetTransaction(txHash string, orderIDs ...string) {
	ids := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		ids[id] = struct{}{}
	}
	m.mu.Lock()
	m.transactions[txHash] = ids
	m.mu.Unlock()
}

// PlaceOrder 实现 gateway.VenueAdapter。
func (m *MockVenue) PlaceOrder(_ context.Context, o order.Order) order.PlaceResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeCount++
	status := "OPEN"
	exchangeID := fmt.Sprintf("e-%d", m.placeCount)
	res := order.PlaceResult{ClientOrderID: o.ClientOrderID, ExchangeOrderID: exchangeID}
	if m.txHashOnPlace != "" {
		// 链上结算：订单号由本地预生成，下单只返回交易哈希
		status = "PENDING_CREATE"
		exchangeID = o.ExchangeOrderID
		res.ExchangeOrderID = ""
		res.Misc = map[string]interface{}{"creation_transaction_hash": m.txHashOnPlace}
	}
	m.orders[o.ClientOrderID] = &mockOrder{
		clientOrderID:   o.ClientOrderID,
		exchangeOrderID: exchangeID,
		tradingPair:     o.TradingPair,
		status:          status,
	}
	return res
}

// CancelOrder 实现 gateway.VenueAdapter。
func (m *MockVenue) CancelOrder(_ context.Context, o order.Order) order.CancelResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCount++
	mo, ok := m.orders[o.ClientOrderID]
	if !ok {
		return order.CancelResult{ClientOrderID: o.ClientOrderID, NotFound: true}
	}
	mo.status = "CANCELED"
	return order.CancelResult{ClientOrderID: o.ClientOrderID}
}

// BatchPlace 实现 gateway.VenueAdapter。
func (m *MockVenue) BatchPlace(ctx context.Context, orders []order.Order) []order.PlaceResult {
	results := make([]order.PlaceResult, 0, len(orders))
	for _, o := range orders {
		results = append(results, m.PlaceOrder(ctx, o))
	}
	return results
}

// BatchCancel 实现 gateway.VenueAdapter。
func (m *MockVenue) BatchCancel(ctx context.Context, orders []order.Order) []order.CancelResult {
	results := make([]order.CancelResult, 0, len(orders))
	for _, o := range orders {
		results = append(results, m.CancelOrder(ctx, o))
	}
	return results
}

// OrderStatus 实现 gateway.VenueAdapter。
func (m *MockVenue) OrderStatus(_ context.Context, o order.Order) (order.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCount++
	mo, ok := m.orders[o.ClientOrderID]
	if !ok {
		return order.Update{}, gateway.ErrOrderNotFound
	}
	var state order.State
	switch mo.status {
	case "OPEN":
		state = order.StateOpen
	case "CANCELED":
		state = order.StateCanceled
	case "PENDING_CREATE":
		state = order.StatePendingCreate
	default:
		state = o.State
	}
	return order.Update{
		ClientOrderID:   mo.clientOrderID,
		ExchangeOrderID: mo.exchangeOrderID,
		TradingPair:     mo.tradingPair,
		NewState:        state,
		Timestamp:       time.Now(),
	}, nil
}

// Fills 实现 gateway.VenueAdapter。
func (m *MockVenue) Fills(_ context.Context, _ []order.Order, since time.Time) ([]order.Fill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []order.Fill
	for _, f := range m.fills {
		if !f.Timestamp.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// TransactionResult 实现 gateway.VenueAdapter。
func (m *MockVenue) TransactionResult(_ context.Context, txHash string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.transactions[txHash]
	if !ok {
		return nil, gateway.ErrTxNotIncluded
	}
	return ids, nil
}
