package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"exchange-connector-go/order"
)

// ErrTxNotIncluded 表示结算交易尚未被打包进区块。
// 对账循环将其视为正常情况，下一周期重试。
var ErrTxNotIncluded = errors.New("transaction not yet included in a block")

// OrderSpec 提交订单所需的参数（client_order_id 由引擎生成）。
type OrderSpec struct {
	TradingPair string
	Side        order.Side
	Type        order.Type
	Price       decimal.Decimal
	Amount      decimal.Decimal
}

// VenueAdapter 交易所适配器：引擎对接具体交易所的唯一接口。
// 批量变体返回与入参顺序一一对应的结果列表。
type VenueAdapter interface {
	PlaceOrder(ctx context.Context, o order.Order) order.PlaceResult
	CancelOrder(ctx context.Context, o order.Order) order.CancelResult
	BatchPlace(ctx context.Context, orders []order.Order) []order.PlaceResult
	BatchCancel(ctx context.Context, orders []order.Order) []order.CancelResult

	// OrderStatus 查询单个订单状态；订单在交易所不存在时返回 ErrOrderNotFound。
	OrderStatus(ctx context.Context, o order.Order) (order.Update, error)

	// Fills 查询窗口期内相关订单的成交。
	Fills(ctx context.Context, orders []order.Order, since time.Time) ([]order.Fill, error)

	// TransactionResult 查询结算交易确认的订单号集合。
	// 未打包时返回 ErrTxNotIncluded。
	TransactionResult(ctx context.Context, txHash string) (map[string]struct{}, error)
}

// ErrOrderNotFound 交易所明确报告订单不存在。
var ErrOrderNotFound = errors.New("order not found on venue")

// RulesProvider 提供交易规则（最小下单量、最小名义、步长），带外刷新。
type RulesProvider interface {
	RuleFor(tradingPair string) (order.TradingRule, bool)
}

// PushSource 推送事件源：一条可能无限、可重连的原始消息序列。
type PushSource interface {
	// Next 阻塞直到下一条原始消息到达；ctx取消时返回其错误。
	Next(ctx context.Context) ([]byte, error)
}

// Clock 可替换的时钟，测试时注入假时钟。
type Clock interface {
	Now() time.Time
}

// RealClock 使用系统时间。
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
