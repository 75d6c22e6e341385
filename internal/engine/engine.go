package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"exchange-connector-go/events"
	"exchange-connector-go/gateway"
	"exchange-connector-go/infrastructure/logger"
	"exchange-connector-go/order"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	VenueName       string            // 交易所名称（日志/指标标签）
	Submitter       SubmitterConfig   // 提交编排配置
	Dispatcher      DispatcherConfig  // 推送/轮询分发配置
	Reconcile       ReconcilerConfig  // 对账配置
	EnableReconcile bool              // 链上结算型交易所开启
	NotFoundLimit   int               // 连续not-found判定失败的阈值
	HashSeed        string            // 订单号预生成种子（结算型交易所）
}

// Components 引擎依赖组件
type Components struct {
	Venue  gateway.VenueAdapter
	Rules  gateway.RulesProvider
	Source gateway.PushSource // 可为nil：只轮询
	Clock  gateway.Clock
	Logger *logger.Logger
}

// ConnectorEngine 订单生命周期引擎：对接一个交易所适配器，
// 管理提交、两条更新通道与（可选的）身份对账。
type ConnectorEngine struct {
	config Config

	tracker    *order.Tracker
	bus        *events.Bus
	submitter  *Submitter
	dispatcher *Dispatcher
	reconciler *Reconciler
	hashes     *HashGenerator
	logger     *logger.Logger

	// 状态
	state EngineState
	mu    sync.RWMutex

	// 统计信息
	stats Statistics
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime    time.Time
	TotalSubmits int64
	TotalCancels int64
	mu           sync.RWMutex
}

// New 创建连接器引擎
func New(cfg Config, components Components) (*ConnectorEngine, error) {
	if components.Venue == nil {
		return nil, fmt.Errorf("venue adapter is required")
	}
	if components.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if components.Clock == nil {
		components.Clock = gateway.RealClock{}
	}
	if cfg.EnableReconcile && cfg.HashSeed == "" {
		return nil, fmt.Errorf("hash seed required when reconciliation is enabled")
	}

	zl := components.Logger.Logger
	bus := events.NewBus()
	tracker := order.NewTracker(order.TrackerConfig{NotFoundLimit: cfg.NotFoundLimit}, bus, zl)

	var hashes *HashGenerator
	if cfg.EnableReconcile {
		hashes = NewHashGenerator(cfg.HashSeed)
	}

	e := &ConnectorEngine{
		config:  cfg,
		tracker: tracker,
		bus:     bus,
		hashes:  hashes,
		logger:  components.Logger,
		state:   StateIdle,
	}
	e.submitter = NewSubmitter(cfg.Submitter, components.Venue, components.Rules,
		tracker, hashes, components.Clock, zl)
	e.dispatcher = NewDispatcher(cfg.Dispatcher, components.Venue, components.Source,
		tracker, components.Clock, zl)
	if cfg.EnableReconcile {
		e.reconciler = NewReconciler(components.Venue, tracker, hashes, cfg.Reconcile, zl)
	}
	return e, nil
}

// Start 启动引擎的全部后台循环。
func (e *ConnectorEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.state = StateRunning
	e.stats.StartTime = time.Now()
	e.mu.Unlock()

	e.logger.Info("Connector engine starting",
		zap.String("venue", e.config.VenueName),
		zap.Bool("batching", e.config.Submitter.BatchingEnabled),
		zap.Bool("reconcile", e.config.EnableReconcile))

	if e.config.Submitter.BatchingEnabled {
		if err := e.submitter.Start(ctx); err != nil {
			return fmt.Errorf("failed to start submitter: %w", err)
		}
	}
	if err := e.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	if e.reconciler != nil {
		if err := e.reconciler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start reconciler: %w", err)
		}
	}

	e.logger.Info("Connector engine started")
	return nil
}

// Stop 停止引擎；各循环独立停止，互不影响。
func (e *ConnectorEngine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.state = StateStopped
	e.mu.Unlock()

	if e.reconciler != nil {
		_ = e.reconciler.Stop()
	}
	_ = e.dispatcher.Stop()
	if e.config.Submitter.BatchingEnabled {
		_ = e.submitter.Stop()
	}

	e.logger.Info("Connector engine stopped")
	return nil
}

// State 返回引擎当前状态。
func (e *ConnectorEngine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SubmitOrder 提交订单，返回客户端订单号。
func (e *ConnectorEngine) SubmitOrder(ctx context.Context, spec gateway.OrderSpec) (string, error) {
	e.stats.mu.Lock()
	e.stats.TotalSubmits++
	e.stats.mu.Unlock()
	return e.submitter.SubmitOrder(ctx, spec)
}

// CancelOrder 请求撤单。
func (e *ConnectorEngine) CancelOrder(ctx context.Context, clientOrderID string) order.CancelResult {
	e.stats.mu.Lock()
	e.stats.TotalCancels++
	e.stats.mu.Unlock()
	return e.submitter.CancelOrder(ctx, clientOrderID)
}

// CancelAll 撤销全部在途订单。
func (e *ConnectorEngine) CancelAll(ctx context.Context, timeout time.Duration) []order.CancelResult {
	return e.submitter.CancelAll(ctx, timeout)
}

// GetOrder 查询订单快照。
func (e *ConnectorEngine) GetOrder(clientOrderID string) (order.Order, bool) {
	return e.tracker.Get(clientOrderID)
}

// AllOrders 返回全部订单快照。
func (e *ConnectorEngine) AllOrders() []order.Order {
	return e.tracker.All()
}

// ActiveOrders 返回全部非终态订单快照。
func (e *ConnectorEngine) ActiveOrders() []order.Order {
	return e.tracker.Active()
}

// Events 返回事件总线，供策略订阅订单/成交通知。
func (e *ConnectorEngine) Events() *events.Bus {
	return e.bus
}

// Tracker 返回底层跟踪器（只读用途）。
func (e *ConnectorEngine) Tracker() *order.Tracker {
	return e.tracker
}

// GetStatistics 返回引擎统计快照。
func (e *ConnectorEngine) GetStatistics() (startTime time.Time, submits, cancels int64) {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()
	return e.stats.StartTime, e.stats.TotalSubmits, e.stats.TotalCancels
}
