package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 本地进程跟踪的在途订单视图。
// 只有 Tracker 允许修改；其余组件通过快照只读访问。
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string // 交易所确认后才有值；一旦设置不可变更
	CreationTxHash  string // 链上结算型交易所：下单交易哈希

	TradingPair string
	Side        Side
	Type        Type
	Price       decimal.Decimal
	Amount      decimal.Decimal

	State        State
	CreationTime time.Time

	FilledBase  decimal.Decimal // 累计成交（base）
	FilledQuote decimal.Decimal // 累计成交（quote）

	FailureReason string // 终态为FAILED时的原因
}

// IsTerminal 订单是否已到终态。
func (o *Order) IsTerminal() bool {
	return IsTerminal(o.State)
}

// IsOpen 订单是否仍在场内活跃（可能产生成交）。
func (o *Order) IsOpen() bool {
	return IsFillable(o.State)
}

// RemainingAmount 剩余未成交数量。
func (o *Order) RemainingAmount() decimal.Decimal {
	rem := o.Amount.Sub(o.FilledBase)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// IsFullyFilled 累计成交是否已达到订单数量。
func (o *Order) IsFullyFilled() bool {
	return o.FilledBase.GreaterThanOrEqual(o.Amount)
}
