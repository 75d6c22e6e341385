package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TradingRule 描述交易对的步长与名义限制（来自交易所元数据）。
type TradingRule struct {
	TradingPair    string
	TickSize       decimal.Decimal
	StepSize       decimal.Decimal
	MinOrderSize   decimal.Decimal
	MaxOrderSize   decimal.Decimal
	MinNotional    decimal.Decimal
	SupportedTypes []Type
}

// SupportsType 检查订单类型是否受支持。空列表视为全部支持。
func (r TradingRule) SupportsType(t Type) bool {
	if len(r.SupportedTypes) == 0 {
		return true
	}
	for _, s := range r.SupportedTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Validate 检查订单价格/数量是否符合精度与最小名义。
// 市价单跳过价格相关的检查。
func (r TradingRule) Validate(orderType Type, price, amount decimal.Decimal) error {
	if !r.SupportsType(orderType) {
		return fmt.Errorf("order type %s not supported for %s", orderType, r.TradingPair)
	}
	if r.StepSize.IsPositive() && !isMultiple(amount, r.StepSize) {
		return fmt.Errorf("amount %s not aligned to stepSize %s", amount, r.StepSize)
	}
	if r.MinOrderSize.IsPositive() && amount.LessThan(r.MinOrderSize) {
		return fmt.Errorf("amount %s < minOrderSize %s", amount, r.MinOrderSize)
	}
	if r.MaxOrderSize.IsPositive() && amount.GreaterThan(r.MaxOrderSize) {
		return fmt.Errorf("amount %s > maxOrderSize %s", amount, r.MaxOrderSize)
	}
	if orderType == TypeMarket {
		return nil
	}
	if r.TickSize.IsPositive() && !isMultiple(price, r.TickSize) {
		return fmt.Errorf("price %s not aligned to tickSize %s", price, r.TickSize)
	}
	if r.MinNotional.IsPositive() && price.Mul(amount).LessThan(r.MinNotional) {
		return fmt.Errorf("notional %s < minNotional %s", price.Mul(amount), r.MinNotional)
	}
	return nil
}

func isMultiple(value, step decimal.Decimal) bool {
	if !step.IsPositive() {
		return true
	}
	return value.Mod(step).IsZero()
}
