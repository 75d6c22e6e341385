package order

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"exchange-connector-go/metrics"
)

var (
	ErrUnknownOrder   = errors.New("unknown order")
	ErrDuplicateOrder = errors.New("order already tracked")
)

// DefaultNotFoundLimit 连续not-found多少次后判定订单失败。
const DefaultNotFoundLimit = 3

// Notifier 接收订单状态变化与成交通知（策略回调）。
type Notifier interface {
	OrderChanged(o Order, previous State)
	OrderFilled(o Order, f Fill)
}

// TrackerConfig 跟踪器配置
type TrackerConfig struct {
	NotFoundLimit int // 连续not-found阈值
}

// record 内部可变记录；对外只暴露 Order 快照。
type record struct {
	Order
	tradeIDs map[string]struct{}
	notFound int
}

// Tracker 订单状态的唯一写入者。
// push/poll/批量提交/对账四类任务都通过它修改订单，
// 前向状态机 + trade_id 去重保证乱序与重放收敛到同一终态。
type Tracker struct {
	mu           sync.RWMutex
	orders       map[string]*record
	byExchangeID map[string]string

	sm            *StateMachine
	notFoundLimit int
	notifier      Notifier
	log           *zap.Logger
}

// NewTracker 创建订单跟踪器。notifier 和 log 可为 nil。
func NewTracker(cfg TrackerConfig, notifier Notifier, log *zap.Logger) *Tracker {
	if cfg.NotFoundLimit <= 0 {
		cfg.NotFoundLimit = DefaultNotFoundLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		orders:        make(map[string]*record),
		byExchangeID:  make(map[string]string),
		sm:            NewStateMachine(),
		notFoundLimit: cfg.NotFoundLimit,
		notifier:      notifier,
		log:           log,
	}
}

// Track 登记新订单。同一 client_order_id 只允许存在一个订单。
func (t *Tracker) Track(o Order) error {
	if o.ClientOrderID == "" {
		return errors.New("client order id required")
	}
	if o.State == "" {
		o.State = StatePendingCreate
	}
	if o.CreationTime.IsZero() {
		o.CreationTime = time.Now().UTC()
	}

	t.mu.Lock()
	if _, ok := t.orders[o.ClientOrderID]; ok {
		t.mu.Unlock()
		return ErrDuplicateOrder
	}
	t.orders[o.ClientOrderID] = &record{
		Order:    o,
		tradeIDs: make(map[string]struct{}),
	}
	if o.ExchangeOrderID != "" {
		t.byExchangeID[o.ExchangeOrderID] = o.ClientOrderID
	}
	t.mu.Unlock()

	metrics.ActiveOrders.Inc()
	t.log.Debug("tracking order",
		zap.String("client_order_id", o.ClientOrderID),
		zap.String("trading_pair", o.TradingPair))
	return nil
}

// ProcessUpdate 应用一条订单状态更新。
// 未知订单返回 ErrUnknownOrder；终态订单或乱序回退的更新
// 只记录诊断并丢弃（返回nil），保证两个通道重放收敛。
func (t *Tracker) ProcessUpdate(u Update) error {
	t.mu.Lock()
	rec := t.resolveLocked(u.ClientOrderID, u.ExchangeOrderID)
	if rec == nil {
		t.mu.Unlock()
		t.log.Debug("update for unknown order",
			zap.String("client_order_id", u.ClientOrderID),
			zap.String("exchange_order_id", u.ExchangeOrderID))
		return ErrUnknownOrder
	}
	if rec.IsTerminal() {
		t.mu.Unlock()
		t.log.Debug("update for terminal order dropped",
			zap.String("client_order_id", rec.ClientOrderID),
			zap.String("state", string(rec.State)))
		return nil
	}

	t.assignExchangeIDLocked(rec, u.ExchangeOrderID)
	rec.notFound = 0

	// 交易所侧拒单/过期：失败原因必须随终态一起落到订单上
	if u.NewState == StateFailed && rec.FailureReason == "" &&
		t.sm.ValidateTransition(rec.State, StateFailed) == nil {
		rec.FailureReason = failureReasonOf(u)
	}

	events := t.applyStateLocked(rec, u.NewState)
	snapshot := rec.Order
	t.mu.Unlock()

	if len(events) == 0 && snapshot.State != u.NewState {
		// 转换被状态机拒绝：来自较慢通道的陈旧更新
		metrics.StaleUpdatesDropped.Inc()
		t.log.Debug("stale update dropped",
			zap.String("client_order_id", snapshot.ClientOrderID),
			zap.String("current", string(snapshot.State)),
			zap.String("new", string(u.NewState)))
	}
	t.emitChanges(events)
	return nil
}

// ProcessFill 应用一条成交更新。同一 trade_id 只生效一次。
func (t *Tracker) ProcessFill(f Fill) error {
	t.mu.Lock()
	rec := t.resolveLocked(f.ClientOrderID, f.ExchangeOrderID)
	if rec == nil {
		t.mu.Unlock()
		t.log.Debug("fill for unknown order",
			zap.String("trade_id", f.TradeID),
			zap.String("exchange_order_id", f.ExchangeOrderID))
		return ErrUnknownOrder
	}
	if rec.IsTerminal() {
		t.mu.Unlock()
		t.log.Debug("fill for terminal order dropped",
			zap.String("client_order_id", rec.ClientOrderID),
			zap.String("trade_id", f.TradeID))
		return nil
	}
	if _, dup := rec.tradeIDs[f.TradeID]; dup {
		t.mu.Unlock()
		metrics.DuplicateFills.Inc()
		t.log.Debug("duplicate fill rejected",
			zap.String("client_order_id", rec.ClientOrderID),
			zap.String("trade_id", f.TradeID))
		return nil
	}

	rec.tradeIDs[f.TradeID] = struct{}{}
	rec.FilledBase = rec.FilledBase.Add(f.BaseAmount)
	rec.FilledQuote = rec.FilledQuote.Add(f.QuoteAmount)
	t.assignExchangeIDLocked(rec, f.ExchangeOrderID)
	rec.notFound = 0

	overfilled := rec.FilledBase.GreaterThan(rec.Amount)

	var events []stateChange
	if rec.IsFullyFilled() {
		events = t.applyStateLocked(rec, StateFilled)
	} else if rec.State == StateOpen {
		events = t.applyStateLocked(rec, StatePartiallyFilled)
	}
	snapshot := rec.Order
	t.mu.Unlock()

	metrics.FillsProcessed.Inc()
	if overfilled {
		// 交易所数据质量问题：只告警，不修正
		metrics.Overfills.Inc()
		t.log.Warn("cumulative fill exceeds order amount",
			zap.String("client_order_id", snapshot.ClientOrderID),
			zap.String("filled_base", snapshot.FilledBase.String()),
			zap.String("amount", snapshot.Amount.String()))
	}
	if t.notifier != nil {
		t.notifier.OrderFilled(snapshot, f)
	}
	t.emitChanges(events)
	return nil
}

// ProcessNotFound 记录一次交易所查询返回"订单不存在"。
// 连续达到阈值才判定失败，容忍交易所侧的最终一致性延迟。
func (t *Tracker) ProcessNotFound(clientOrderID string) error {
	t.mu.Lock()
	rec, ok := t.orders[clientOrderID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownOrder
	}
	if rec.IsTerminal() {
		t.mu.Unlock()
		return nil
	}
	rec.notFound++
	count := rec.notFound
	limit := t.notFoundLimit
	t.mu.Unlock()

	t.log.Debug("order not found on venue",
		zap.String("client_order_id", clientOrderID),
		zap.Int("consecutive", count),
		zap.Int("limit", limit))

	if count < limit {
		return nil
	}
	metrics.NotFoundFailures.Inc()
	return t.Fail(clientOrderID, "order not found on venue after repeated status checks")
}

// Fail 将订单强制置为FAILED并记录原因。
// 由提交校验、批量失败和对账不一致等本地权威路径调用。
func (t *Tracker) Fail(clientOrderID, reason string) error {
	t.mu.Lock()
	rec, ok := t.orders[clientOrderID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownOrder
	}
	if rec.IsTerminal() {
		t.mu.Unlock()
		return nil
	}
	prev := rec.State
	rec.State = StateFailed
	rec.FailureReason = reason
	snapshot := rec.Order
	t.mu.Unlock()

	metrics.ActiveOrders.Dec()
	metrics.OrderTransitions.WithLabelValues(string(StateFailed)).Inc()
	t.log.Warn("order failed",
		zap.String("client_order_id", clientOrderID),
		zap.String("previous", string(prev)),
		zap.String("reason", reason))
	if t.notifier != nil {
		t.notifier.OrderChanged(snapshot, prev)
	}
	return nil
}

// SetCreationTxHash 记录下单交易哈希（链上结算型交易所）。
func (t *Tracker) SetCreationTxHash(clientOrderID, txHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.orders[clientOrderID]
	if !ok {
		return ErrUnknownOrder
	}
	rec.CreationTxHash = txHash
	return nil
}

// Get 返回订单快照。
func (t *Tracker) Get(clientOrderID string) (Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.orders[clientOrderID]
	if !ok {
		return Order{}, false
	}
	return rec.Order, true
}

// GetByExchangeID 按交易所订单号返回订单快照。
func (t *Tracker) GetByExchangeID(exchangeOrderID string) (Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	clientID, ok := t.byExchangeID[exchangeOrderID]
	if !ok {
		return Order{}, false
	}
	rec, ok := t.orders[clientID]
	if !ok {
		return Order{}, false
	}
	return rec.Order, true
}

// All 返回全部订单快照（含终态）。
func (t *Tracker) All() []Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Order, 0, len(t.orders))
	for _, rec := range t.orders {
		out = append(out, rec.Order)
	}
	return out
}

// Active 返回所有非终态订单快照。
func (t *Tracker) Active() []Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Order, 0, len(t.orders))
	for _, rec := range t.orders {
		if !rec.IsTerminal() {
			out = append(out, rec.Order)
		}
	}
	return out
}

// OldestActiveCreation 返回最早的非终态订单创建时间，用于轮询窗口。
func (t *Tracker) OldestActiveCreation() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var oldest time.Time
	found := false
	for _, rec := range t.orders {
		if rec.IsTerminal() {
			continue
		}
		if !found || rec.CreationTime.Before(oldest) {
			oldest = rec.CreationTime
			found = true
		}
	}
	return oldest, found
}

// resolveLocked 先按client_order_id解析，再退回exchange_order_id
// （push通道的更新可能只带交易所订单号）。
func (t *Tracker) resolveLocked(clientOrderID, exchangeOrderID string) *record {
	if clientOrderID != "" {
		if rec, ok := t.orders[clientOrderID]; ok {
			return rec
		}
	}
	if exchangeOrderID != "" {
		if clientID, ok := t.byExchangeID[exchangeOrderID]; ok {
			return t.orders[clientID]
		}
	}
	return nil
}

// assignExchangeIDLocked 首次观察到交易所订单号时绑定；之后不可变更。
func (t *Tracker) assignExchangeIDLocked(rec *record, exchangeOrderID string) {
	if exchangeOrderID == "" {
		return
	}
	if rec.ExchangeOrderID == "" {
		rec.ExchangeOrderID = exchangeOrderID
		t.byExchangeID[exchangeOrderID] = rec.ClientOrderID
		return
	}
	if rec.ExchangeOrderID != exchangeOrderID {
		t.log.Warn("conflicting exchange order id ignored",
			zap.String("client_order_id", rec.ClientOrderID),
			zap.String("known", rec.ExchangeOrderID),
			zap.String("received", exchangeOrderID))
	}
}

// failureReasonOf 提取更新携带的失败原因；交易所没给就用通用描述。
func failureReasonOf(u Update) string {
	if r, ok := u.Misc["reason"].(string); ok && r != "" {
		return r
	}
	return "venue reported order as failed"
}

type stateChange struct {
	snapshot Order
	previous State
}

// applyStateLocked 应用目标状态，必要时先补发隐式的OPEN转换
// （轮询通道可能在确认之前就观察到成交/撤销结果）。
func (t *Tracker) applyStateLocked(rec *record, target State) []stateChange {
	if target == rec.State {
		return nil
	}
	var events []stateChange
	if rec.State == StatePendingCreate && target != StateOpen && target != StateFailed {
		if t.sm.ValidateTransition(StateOpen, target) == nil {
			events = append(events, t.transitionLocked(rec, StateOpen)...)
		}
	}
	if t.sm.ValidateTransition(rec.State, target) != nil {
		return events
	}
	events = append(events, t.transitionLocked(rec, target)...)
	return events
}

func (t *Tracker) transitionLocked(rec *record, target State) []stateChange {
	prev := rec.State
	rec.State = target
	metrics.OrderTransitions.WithLabelValues(string(target)).Inc()
	if IsTerminal(target) {
		metrics.ActiveOrders.Dec()
	}
	return []stateChange{{snapshot: rec.Order, previous: prev}}
}

// emitChanges 在锁外发出通知，避免订阅方回调造成死锁。
func (t *Tracker) emitChanges(events []stateChange) {
	if t.notifier == nil {
		return
	}
	for _, ev := range events {
		t.notifier.OrderChanged(ev.snapshot, ev.previous)
	}
}
