package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exchange-connector-go/events"
	"exchange-connector-go/order"
)

// Alert 告警信息
type Alert struct {
	Level     string                 // "INFO", "WARNING", "ERROR", "CRITICAL"
	Message   string                 // 告警消息
	Timestamp time.Time              // 告警时间
	Fields    map[string]interface{} // 附加字段
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器：订阅事件总线，把订单失败转成告警。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.RWMutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastTime, exists := t.lastSent[key]

	if !exists || now.Sub(lastTime) >= t.interval {
		t.lastSent[key] = now
		return true
	}

	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 订阅事件总线，订单进入FAILED时发出告警。
func (m *Manager) Start(ctx context.Context, bus *events.Bus) error {
	orderCh := bus.SubscribeOrders(64)
	go m.watch(ctx, orderCh)
	return nil
}

// Stop 停止事件订阅。
func (m *Manager) Stop() error {
	close(m.stopChan)
	<-m.doneChan
	return nil
}

func (m *Manager) watch(ctx context.Context, orderCh <-chan events.OrderEvent) {
	defer close(m.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case ev := <-orderCh:
			if ev.Order.State != order.StateFailed {
				continue
			}
			_ = m.SendError("order failed", map[string]interface{}{
				"client_order_id": ev.Order.ClientOrderID,
				"trading_pair":    ev.Order.TradingPair,
				"previous_state":  string(ev.Previous),
				"reason":          ev.Order.FailureReason,
			})
		}
	}
}

// SendAlert 发送告警
func (m *Manager) SendAlert(alert Alert) error {
	// 设置时间戳
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	// 同类告警限流，key不含订单号，风暴时只透出第一条
	key := fmt.Sprintf("%s:%s", alert.Level, alert.Message)
	if !m.throttle.Allow(key) {
		return nil // 被限流，静默忽略
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// 发送到所有通道
	var lastErr error
	successCount := 0

	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			successCount++
		}
	}

	// 如果所有通道都失败，返回最后一个错误
	if successCount == 0 && lastErr != nil {
		return lastErr
	}

	return nil
}

// SendWarning 发送WARNING级别告警
func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{
		Level:   "WARNING",
		Message: message,
		Fields:  fields,
	})
}

// SendError 发送ERROR级别告警
func (m *Manager) SendError(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{
		Level:   "ERROR",
		Message: message,
		Fields:  fields,
	})
}

// SendCritical 发送CRITICAL级别告警
func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{
		Level:   "CRITICAL",
		Message: message,
		Fields:  fields,
	})
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
