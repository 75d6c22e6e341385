package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"exchange-connector-go/events"
)

// OrderRecord 订单状态变化流水
type OrderRecord struct {
	ID              uint   `gorm:"primaryKey"`
	ClientOrderID   string `gorm:"index"`
	ExchangeOrderID string
	TradingPair     string
	Side            string
	Type            string
	Price           string
	Amount          string
	State           string
	PreviousState   string
	FilledBase      string
	FilledQuote     string
	FailureReason   string
	EventTime       time.Time
}

// FillRecord 成交流水。trade_id 唯一，重复成交在落库层也兜底去重。
type FillRecord struct {
	ID            uint   `gorm:"primaryKey"`
	TradeID       string `gorm:"uniqueIndex"`
	ClientOrderID string `gorm:"index"`
	TradingPair   string
	BaseAmount    string
	QuoteAmount   string
	Price         string
	Fee           string
	FeeAsset      string
	IsTaker       bool
	EventTime     time.Time
}

// Journal 把事件总线上的订单/成交事件落到本地SQLite，
// 供崩溃后复盘与离线对账。写入失败不影响交易路径。
type Journal struct {
	db       *gorm.DB
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewJournal 打开（或创建）流水库。
func NewJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.AutoMigrate(&OrderRecord{}, &FillRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}
	return &Journal{
		db:       db,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 订阅事件总线并开始落库。
func (j *Journal) Start(ctx context.Context, bus *events.Bus) error {
	orderCh := bus.SubscribeOrders(256)
	fillCh := bus.SubscribeFills(256)
	go j.run(ctx, orderCh, fillCh)
	return nil
}

// Stop 停止落库循环。
func (j *Journal) Stop() error {
	close(j.stopChan)
	<-j.doneChan
	return nil
}

func (j *Journal) run(ctx context.Context, orderCh <-chan events.OrderEvent, fillCh <-chan events.FillEvent) {
	defer close(j.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopChan:
			return
		case ev := <-orderCh:
			j.recordOrder(ev)
		case ev := <-fillCh:
			j.recordFill(ev)
		}
	}
}

func (j *Journal) recordOrder(ev events.OrderEvent) {
	o := ev.Order
	_ = j.db.Create(&OrderRecord{
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
		TradingPair:     o.TradingPair,
		Side:            string(o.Side),
		Type:            string(o.Type),
		Price:           o.Price.String(),
		Amount:          o.Amount.String(),
		State:           string(o.State),
		PreviousState:   string(ev.Previous),
		FilledBase:      o.FilledBase.String(),
		FilledQuote:     o.FilledQuote.String(),
		FailureReason:   o.FailureReason,
		EventTime:       time.Now().UTC(),
	}).Error
}

func (j *Journal) recordFill(ev events.FillEvent) {
	f := ev.Fill
	_ = j.db.Create(&FillRecord{
		TradeID:       f.TradeID,
		ClientOrderID: ev.Order.ClientOrderID,
		TradingPair:   f.TradingPair,
		BaseAmount:    f.BaseAmount.String(),
		QuoteAmount:   f.QuoteAmount.String(),
		Price:         f.Price.String(),
		Fee:           f.Fee.String(),
		FeeAsset:      f.FeeAsset,
		IsTaker:       f.IsTaker,
		EventTime:     time.Now().UTC(),
	}).Error
}

// OrderHistory 返回某订单的全部状态变化流水，按写入顺序。
func (j *Journal) OrderHistory(clientOrderID string) ([]OrderRecord, error) {
	var records []OrderRecord
	err := j.db.Where("client_order_id = ?", clientOrderID).Order("id").Find(&records).Error
	return records, err
}

// FillHistory 返回某订单的全部成交流水。
func (j *Journal) FillHistory(clientOrderID string) ([]FillRecord, error) {
	var records []FillRecord
	err := j.db.Where("client_order_id = ?", clientOrderID).Order("id").Find(&records).Error
	return records, err
}
