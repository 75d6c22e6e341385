package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"exchange-connector-go/gateway"
	"exchange-connector-go/metrics"
	"exchange-connector-go/order"
)

// SubmitterConfig 提交编排器配置
type SubmitterConfig struct {
	BatchingEnabled bool          // 批量模式：入队等待flush；否则同步逐单发送
	FlushInterval   time.Duration // 批量flush周期
	RequestTimeout  time.Duration // 单次交易所调用的超时
	ConfirmOnPlace  bool          // 下单结果即视为OPEN确认（CEX）；否则保持PENDING_CREATE等链上确认
	SyncCancel      bool          // 撤单结果即视为CANCELED；否则进入PENDING_CANCEL
	IDPrefix        string        // 客户端订单号前缀
}

// Submitter 提交编排器：校验、登记、（可选）攒批后调用交易所，
// 并把结果回灌给 Tracker。
type Submitter struct {
	cfg     SubmitterConfig
	venue   gateway.VenueAdapter
	rules   gateway.RulesProvider
	tracker *order.Tracker
	idgen   *order.IDGenerator
	hashes  *HashGenerator // 仅链上结算型交易所非nil
	clock   gateway.Clock
	log     *zap.Logger

	mu            sync.Mutex
	pendingCreate []order.Order
	pendingCancel []order.Order

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSubmitter 创建提交编排器。
func NewSubmitter(cfg SubmitterConfig, venue gateway.VenueAdapter, rules gateway.RulesProvider,
	tracker *order.Tracker, hashes *HashGenerator, clock gateway.Clock, log *zap.Logger) *Submitter {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if clock == nil {
		clock = gateway.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{
		cfg:      cfg,
		venue:    venue,
		rules:    rules,
		tracker:  tracker,
		idgen:    order.NewIDGenerator(cfg.IDPrefix),
		hashes:   hashes,
		clock:    clock,
		log:      log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// SubmitOrder 登记并提交订单，返回客户端订单号。
// 校验失败时订单直接转FAILED，不触达交易所；返回的id仍可查询。
func (s *Submitter) SubmitOrder(ctx context.Context, spec gateway.OrderSpec) (string, error) {
	clientID := s.idgen.Next(spec.Side, spec.TradingPair)
	o := order.Order{
		ClientOrderID: clientID,
		TradingPair:   spec.TradingPair,
		Side:          spec.Side,
		Type:          spec.Type,
		Price:         spec.Price,
		Amount:        spec.Amount,
		State:         order.StatePendingCreate,
		CreationTime:  s.clock.Now(),
	}
	if err := s.tracker.Track(o); err != nil {
		return "", err
	}

	if err := s.validate(spec); err != nil {
		_ = s.tracker.Fail(clientID, "validation failed: "+err.Error())
		return clientID, err
	}

	if s.hashes != nil {
		// 链上结算：本地预生成交易所订单号，等待链上确认
		assertedID := s.hashes.NextID()
		_ = s.tracker.ProcessUpdate(order.Update{
			ClientOrderID:   clientID,
			ExchangeOrderID: assertedID,
			NewState:        order.StatePendingCreate,
			Timestamp:       s.clock.Now(),
		})
	}

	tracked, _ := s.tracker.Get(clientID)

	if s.cfg.BatchingEnabled {
		s.mu.Lock()
		s.pendingCreate = append(s.pendingCreate, tracked)
		s.mu.Unlock()
		return clientID, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	s.applyPlaceResult(tracked, s.venue.PlaceOrder(callCtx, tracked))
	return clientID, nil
}

// CancelOrder 请求撤单。未知/不可撤订单返回not-found结果，不触达交易所。
func (s *Submitter) CancelOrder(ctx context.Context, clientOrderID string) order.CancelResult {
	o, ok := s.tracker.Get(clientOrderID)
	if !ok || !order.CanCancel(o.State) {
		return order.CancelResult{ClientOrderID: clientOrderID, NotFound: true}
	}

	if s.cfg.BatchingEnabled {
		s.mu.Lock()
		s.pendingCancel = append(s.pendingCancel, o)
		s.mu.Unlock()
		return order.CancelResult{ClientOrderID: clientOrderID}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	res := s.venue.CancelOrder(callCtx, o)
	s.applyCancelResult(o, res)
	return res
}

// CancelAll 批量撤销所有可撤订单，返回每单的结果。
func (s *Submitter) CancelAll(ctx context.Context, timeout time.Duration) []order.CancelResult {
	var toCancel []order.Order
	for _, o := range s.tracker.Active() {
		if order.CanCancel(o.State) {
			toCancel = append(toCancel, o)
		}
	}
	if len(toCancel) == 0 {
		return nil
	}
	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := s.venue.BatchCancel(callCtx, toCancel)
	for i, res := range results {
		if i < len(toCancel) {
			s.applyCancelResult(toCancel[i], res)
		}
	}
	return results
}

// Start 启动批量flush循环（仅批量模式需要）。
func (s *Submitter) Start(ctx context.Context) error {
	// 通道只能close一次，Stop后复启需要重建
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	go s.flushLoop(ctx)
	return nil
}

// Stop 停止flush循环并清空队列。
func (s *Submitter) Stop() error {
	close(s.stopChan)
	<-s.doneChan
	return nil
}

func (s *Submitter) flushLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush 排空待提交/待撤销队列，各发一次批量请求。
// 队列在临界区内整体换出，与并发入队互不丢单。
func (s *Submitter) Flush(ctx context.Context) {
	s.mu.Lock()
	creates := s.pendingCreate
	cancels := s.pendingCancel
	s.pendingCreate = nil
	s.pendingCancel = nil
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	if len(cancels) > 0 {
		metrics.BatchFlushSize.WithLabelValues("cancel").Observe(float64(len(cancels)))
		results := s.venue.BatchCancel(callCtx, cancels)
		for i, res := range results {
			if i < len(cancels) {
				s.applyCancelResult(cancels[i], res)
			}
		}
	}
	if len(creates) > 0 {
		metrics.BatchFlushSize.WithLabelValues("create").Observe(float64(len(creates)))
		results := s.venue.BatchPlace(callCtx, creates)
		for i, res := range results {
			if i < len(creates) {
				s.applyPlaceResult(creates[i], res)
			}
		}
	}
}

// applyPlaceResult 单条下单结果回灌。逐条隔离：
// 一条失败不影响同批其他订单。
func (s *Submitter) applyPlaceResult(o order.Order, res order.PlaceResult) {
	if res.Err != nil {
		s.log.Warn("order placement failed",
			zap.String("client_order_id", o.ClientOrderID),
			zap.Error(res.Err))
		_ = s.tracker.Fail(o.ClientOrderID, res.Err.Error())
		return
	}
	if txHash, ok := res.Misc["creation_transaction_hash"].(string); ok && txHash != "" {
		_ = s.tracker.SetCreationTxHash(o.ClientOrderID, txHash)
	}
	newState := order.StatePendingCreate
	if s.cfg.ConfirmOnPlace {
		newState = order.StateOpen
	}
	_ = s.tracker.ProcessUpdate(order.Update{
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: res.ExchangeOrderID,
		TradingPair:     o.TradingPair,
		NewState:        newState,
		Timestamp:       s.clock.Now(),
		Misc:            res.Misc,
	})
}

func (s *Submitter) applyCancelResult(o order.Order, res order.CancelResult) {
	switch {
	case res.NotFound:
		s.log.Warn("cancel target not found on venue",
			zap.String("client_order_id", o.ClientOrderID))
		_ = s.tracker.ProcessNotFound(o.ClientOrderID)
	case res.Err != nil:
		// 瞬时错误：订单保持非终态，由push/poll通道后续解决
		s.log.Warn("order cancelation failed",
			zap.String("client_order_id", o.ClientOrderID),
			zap.Error(res.Err))
	default:
		newState := order.StatePendingCancel
		if s.cfg.SyncCancel {
			newState = order.StateCanceled
		}
		_ = s.tracker.ProcessUpdate(order.Update{
			ClientOrderID: o.ClientOrderID,
			TradingPair:   o.TradingPair,
			NewState:      newState,
			Timestamp:     s.clock.Now(),
			Misc:          res.Misc,
		})
	}
}

// validate 本地前置校验：规则缺失时放行（规则由带外刷新）。
func (s *Submitter) validate(spec gateway.OrderSpec) error {
	if s.rules == nil {
		return nil
	}
	rule, ok := s.rules.RuleFor(spec.TradingPair)
	if !ok {
		return nil
	}
	return rule.Validate(spec.Type, spec.Price, spec.Amount)
}

// PendingQueueSizes 返回当前待flush队列长度（监控用）。
func (s *Submitter) PendingQueueSizes() (creates, cancels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingCreate), len(s.pendingCancel)
}
