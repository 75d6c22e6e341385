package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"exchange-connector-go/gateway"
	"exchange-connector-go/metrics"
	"exchange-connector-go/order"
)

// DispatcherConfig 更新分发配置
type DispatcherConfig struct {
	ShortPollInterval   time.Duration // 推送通道疑似失效时的轮询间隔
	LongPollInterval    time.Duration // 推送通道健康时的轮询间隔
	PushFreshnessWindow time.Duration // 超过该时长未收到推送则切换短间隔
	ErrorBackoff        time.Duration // 循环出错后的退避时长
}

// Dispatcher 两条独立的更新通道：持续消费推送流 + 周期轮询。
// 两条通道都只向 Tracker 灌数据，乱序/重复由 Tracker 收敛。
type Dispatcher struct {
	cfg     DispatcherConfig
	venue   gateway.VenueAdapter
	source  gateway.PushSource
	tracker *order.Tracker
	clock   gateway.Clock
	log     *zap.Logger

	// 余额等非订单推送事件的旁路处理，可为nil
	BalanceHandler func(gateway.BalanceUpdate)

	lastPushNano atomic.Int64
	lastFillPoll time.Time // 仅轮询循环访问

	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewDispatcher 创建分发器。source 可为nil（交易所无推送通道时只跑轮询）。
func NewDispatcher(cfg DispatcherConfig, venue gateway.VenueAdapter, source gateway.PushSource,
	tracker *order.Tracker, clock gateway.Clock, log *zap.Logger) *Dispatcher {
	if cfg.ShortPollInterval <= 0 {
		cfg.ShortPollInterval = 5 * time.Second
	}
	if cfg.LongPollInterval <= 0 {
		cfg.LongPollInterval = 120 * time.Second
	}
	if cfg.PushFreshnessWindow <= 0 {
		cfg.PushFreshnessWindow = 60 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if clock == nil {
		clock = gateway.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:      cfg,
		venue:    venue,
		source:   source,
		tracker:  tracker,
		clock:    clock,
		log:      log,
		stopChan: make(chan struct{}),
	}
	d.lastPushNano.Store(clock.Now().UnixNano())
	d.lastFillPoll = clock.Now()
	return d
}

// Start 启动推送与轮询两个循环。
func (d *Dispatcher) Start(ctx context.Context) error {
	// 通道只能close一次，Stop后复启需要重建
	d.stopChan = make(chan struct{})
	// 推送循环可能阻塞在 source.Next 上，Stop 靠取消这个派生ctx解除阻塞
	ctx, d.cancel = context.WithCancel(ctx)
	if d.source != nil {
		d.wg.Add(1)
		go d.pushLoop(ctx)
	}
	d.wg.Add(1)
	go d.pollLoop(ctx)
	return nil
}

// Stop 停止两个循环并等待退出。
func (d *Dispatcher) Stop() error {
	close(d.stopChan)
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	return nil
}

// pushLoop 持续消费推送流。瞬时失败只记录并退避，
// 绝不悄悄退出：对只有推送通道的交易所这是唯一的数据来源。
func (d *Dispatcher) pushLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		default:
		}

		msg, err := d.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.DispatchErrors.WithLabelValues("push").Inc()
			d.log.Warn("push source error, backing off", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-d.stopChan:
				return
			case <-time.After(d.cfg.ErrorBackoff):
			}
			continue
		}

		d.lastPushNano.Store(d.clock.Now().UnixNano())
		d.handlePushMessage(msg)
	}
}

// handlePushMessage 归一化并转发单条推送消息。
// 坏消息只丢弃该条（fail closed），循环继续。
func (d *Dispatcher) handlePushMessage(msg []byte) {
	ev, err := gateway.ParsePushEvent(msg)
	if err != nil {
		d.log.Debug("dropping malformed push event", zap.Error(err))
		return
	}
	switch ev.Kind {
	case gateway.KindOrderUpdate:
		if err := d.tracker.ProcessUpdate(*ev.OrderUpdate); err != nil {
			d.log.Debug("push order update not applied", zap.Error(err))
		}
	case gateway.KindFill:
		if err := d.tracker.ProcessFill(*ev.Fill); err != nil {
			d.log.Debug("push fill not applied", zap.Error(err))
		}
	case gateway.KindBalance:
		if d.BalanceHandler != nil {
			d.BalanceHandler(*ev.Balance)
		}
	}
}

// pollLoop 周期轮询订单状态与成交。推送越久没来，轮询越勤。
func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		interval, tier := d.currentPollInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-d.stopChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		metrics.PollCycles.WithLabelValues(tier).Inc()
		if err := d.pollOnce(ctx); err != nil && ctx.Err() == nil {
			metrics.DispatchErrors.WithLabelValues("poll").Inc()
			d.log.Warn("poll cycle error, backing off", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-d.stopChan:
				return
			case <-time.After(d.cfg.ErrorBackoff):
			}
		}
	}
}

// currentPollInterval 显式新鲜度判断：推送最近到过就用长间隔。
func (d *Dispatcher) currentPollInterval() (time.Duration, string) {
	sinceLastPush := d.clock.Now().Sub(time.Unix(0, d.lastPushNano.Load()))
	if sinceLastPush > d.cfg.PushFreshnessWindow {
		return d.cfg.ShortPollInterval, "short"
	}
	return d.cfg.LongPollInterval, "long"
}

// pollOnce 查询所有非终态订单的状态与成交并回灌Tracker。
// 单个订单的失败不阻断其余订单。
func (d *Dispatcher) pollOnce(ctx context.Context) error {
	active := d.tracker.Active()
	if len(active) == 0 {
		return nil
	}

	var firstErr error
	for _, o := range active {
		upd, err := d.venue.OrderStatus(ctx, o)
		switch {
		case errors.Is(err, gateway.ErrOrderNotFound):
			_ = d.tracker.ProcessNotFound(o.ClientOrderID)
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		default:
			if upd.ClientOrderID == "" {
				upd.ClientOrderID = o.ClientOrderID
			}
			_ = d.tracker.ProcessUpdate(upd)
		}
	}

	// 成交窗口由最老在途订单的创建时间与上次轮询的低水位共同约束
	since := d.lastFillPoll
	if oldest, ok := d.tracker.OldestActiveCreation(); ok && oldest.Before(since) {
		since = oldest
	}
	fills, err := d.venue.Fills(ctx, active, since)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	for _, f := range fills {
		if err := d.tracker.ProcessFill(f); err != nil {
			d.log.Debug("polled fill not applied",
				zap.String("trade_id", f.TradeID), zap.Error(err))
		}
		if f.Timestamp.After(d.lastFillPoll) {
			d.lastFillPoll = f.Timestamp
		}
	}
	return firstErr
}
