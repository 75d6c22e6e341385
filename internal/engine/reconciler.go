package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"exchange-connector-go/gateway"
	"exchange-connector-go/metrics"
	"exchange-connector-go/order"
)

// Reconciler 订单身份对账器（仅链上结算型交易所）。
// 定期检查带交易哈希的PENDING_CREATE订单：交易打包后，
// 本地断言的订单号若不在链上结果里，视为身份不一致。
type Reconciler struct {
	venue    gateway.VenueAdapter
	tracker  *order.Tracker
	hashes   *HashGenerator
	interval time.Duration
	log      *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// 统计信息
	totalReconciliations int64
	mismatchesResolved   int64
	lastReconcileTime    time.Time
}

// ReconcilerConfig 对账器配置
type ReconcilerConfig struct {
	Interval time.Duration // 对账间隔
}

// NewReconciler 创建订单身份对账器。
func NewReconciler(venue gateway.VenueAdapter, tracker *order.Tracker,
	hashes *HashGenerator, cfg ReconcilerConfig, log *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		venue:    venue,
		tracker:  tracker,
		hashes:   hashes,
		interval: cfg.Interval,
		log:      log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 启动对账服务
func (r *Reconciler) Start(ctx context.Context) error {
	// 通道只能close一次，Stop后复启需要重建
	r.stopChan = make(chan struct{})
	r.doneChan = make(chan struct{})
	go r.reconcileLoop(ctx)
	return nil
}

// Stop 停止对账服务
func (r *Reconciler) Stop() error {
	close(r.stopChan)
	<-r.doneChan // 等待循环退出
	return nil
}

func (r *Reconciler) reconcileLoop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("reconcile cycle error", zap.Error(err))
			}
		}
	}
}

// Reconcile 执行一次完整对账。
// "交易未打包"是正常情况，留到下一周期；真正的不一致才处理。
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	r.totalReconciliations++
	r.lastReconcileTime = time.Now()
	r.mu.Unlock()

	byTxHash := make(map[string][]order.Order)
	for _, o := range r.tracker.Active() {
		if o.State == order.StatePendingCreate && o.CreationTxHash != "" {
			byTxHash[o.CreationTxHash] = append(byTxHash[o.CreationTxHash], o)
		}
	}
	if len(byTxHash) == 0 {
		return nil
	}

	var mismatched []order.Order
	var firstErr error
	for txHash, orders := range byTxHash {
		confirmed, err := r.venue.TransactionResult(ctx, txHash)
		if errors.Is(err, gateway.ErrTxNotIncluded) {
			r.log.Debug("transaction not included in a block yet",
				zap.String("tx_hash", txHash))
			continue
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, o := range orders {
			if _, ok := confirmed[o.ExchangeOrderID]; !ok {
				r.log.Warn("order id missing from settlement transaction",
					zap.String("client_order_id", o.ClientOrderID),
					zap.String("asserted_id", o.ExchangeOrderID),
					zap.String("tx_hash", txHash))
				mismatched = append(mismatched, o)
			}
		}
	}

	if len(mismatched) > 0 {
		r.resolveMismatches(mismatched)
	}
	return firstErr
}

// resolveMismatches 在与取号共享的临界区内：
// 先把不一致订单标记失败，再用剩余合法在途订单重置取号序列，
// 防止后续订单继续生成已脱节的订单号。
func (r *Reconciler) resolveMismatches(mismatched []order.Order) {
	failed := make(map[string]struct{}, len(mismatched))
	for _, o := range mismatched {
		failed[o.ClientOrderID] = struct{}{}
	}

	r.hashes.Exclusive(func() {
		for _, o := range mismatched {
			_ = r.tracker.Fail(o.ClientOrderID, "asserted order id missing from settlement transaction")
			metrics.ReconcileMismatches.Inc()
		}
		var stillPending []order.Order
		for _, o := range r.tracker.Active() {
			if o.State != order.StatePendingCreate {
				continue
			}
			if _, was := failed[o.ClientOrderID]; was {
				continue
			}
			stillPending = append(stillPending, o)
		}
		r.hashes.Reset(stillPending)
	})

	r.mu.Lock()
	r.mismatchesResolved += int64(len(mismatched))
	r.mu.Unlock()
}

// ReconcilerStats 对账统计信息
type ReconcilerStats struct {
	TotalReconciliations int64
	MismatchesResolved   int64
	LastReconcileTime    time.Time
	Interval             time.Duration
}

// GetStatistics 获取对账统计信息
func (r *Reconciler) GetStatistics() ReconcilerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ReconcilerStats{
		TotalReconciliations: r.totalReconciliations,
		MismatchesResolved:   r.mismatchesResolved,
		LastReconcileTime:    r.lastReconcileTime,
		Interval:             r.interval,
	}
}
