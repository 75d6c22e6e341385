package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Update 归一化后的订单状态更新（push/poll 两个通道共用）。
type Update struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	NewState        State
	Timestamp       time.Time
	Misc            map[string]interface{}
}

// Fill 归一化后的成交更新。TradeID 用于去重。
type Fill struct {
	TradeID         string
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	BaseAmount      decimal.Decimal
	QuoteAmount     decimal.Decimal
	Price           decimal.Decimal
	Fee             decimal.Decimal
	FeeAsset        string
	Timestamp       time.Time
	IsTaker         bool
}

// PlaceResult 下单结果：成功时带交易所订单号，失败时带错误。
type PlaceResult struct {
	ClientOrderID   string
	ExchangeOrderID string
	Misc            map[string]interface{}
	Err             error
}

// CancelResult 撤单结果。NotFound 表示交易所明确报告订单不存在。
type CancelResult struct {
	ClientOrderID string
	NotFound      bool
	Misc          map[string]interface{}
	Err           error
}
