package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"exchange-connector-go/order"
)

// EventKind 归一化后的推送事件类别。
type EventKind int

const (
	KindUnknown EventKind = iota
	KindOrderUpdate
	KindFill
	KindBalance
)

// BalanceUpdate 账户余额事件（引擎不跟踪余额，留给外部处理）。
type BalanceUpdate struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Event 归一化结果：按 Kind 取对应字段。
type Event struct {
	Kind        EventKind
	OrderUpdate *order.Update
	Fill        *order.Fill
	Balance     *BalanceUpdate
}

// pushEnvelope 对应推送消息的外层包装。
type pushEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rawOrderUpdate struct {
	ClientOrderID   string `json:"client_order_id"`
	ExchangeOrderID string `json:"exchange_order_id"`
	TradingPair     string `json:"trading_pair"`
	Status          string `json:"status"`
	Reason          string `json:"reason"`
	Timestamp       int64  `json:"ts"`
}

type rawTrade struct {
	TradeID         string      `json:"trade_id"`
	ClientOrderID   string      `json:"client_order_id"`
	ExchangeOrderID string      `json:"exchange_order_id"`
	TradingPair     string      `json:"trading_pair"`
	BaseAmount      json.Number `json:"base_amount"`
	QuoteAmount     json.Number `json:"quote_amount"`
	Price           json.Number `json:"price"`
	Fee             json.Number `json:"fee"`
	FeeAsset        string      `json:"fee_asset"`
	Timestamp       int64       `json:"ts"`
	IsTaker         bool        `json:"is_taker"`
}

type rawBalance struct {
	Asset     string      `json:"asset"`
	Total     json.Number `json:"total"`
	Available json.Number `json:"available"`
}

// ParsePushEvent 将原始推送消息归一化为订单/成交/余额事件。
// 未知字段忽略；必填字段缺失或非法时整条消息丢弃（fail closed），
// 由调用方记录诊断，绝不让单条坏消息终止摄取循环。
func ParsePushEvent(raw []byte) (Event, error) {
	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("parse envelope: %w", err)
	}

	switch env.Type {
	case "order_update":
		return parseOrderUpdate(env.Data)
	case "trade":
		return parseTrade(env.Data)
	case "balance":
		return parseBalance(env.Data)
	default:
		return Event{}, fmt.Errorf("unknown push event type %q", env.Type)
	}
}

func parseOrderUpdate(data json.RawMessage) (Event, error) {
	var r rawOrderUpdate
	if err := json.Unmarshal(data, &r); err != nil {
		return Event{}, fmt.Errorf("parse order update: %w", err)
	}
	if r.ClientOrderID == "" && r.ExchangeOrderID == "" {
		return Event{}, fmt.Errorf("order update carries no order id")
	}
	state, err := mapVenueStatus(r.Status)
	if err != nil {
		return Event{}, err
	}
	u := &order.Update{
		ClientOrderID:   r.ClientOrderID,
		ExchangeOrderID: r.ExchangeOrderID,
		TradingPair:     r.TradingPair,
		NewState:        state,
		Timestamp:       msToTime(r.Timestamp),
	}
	if state == order.StateFailed && r.Reason != "" {
		u.Misc = map[string]interface{}{"reason": r.Reason}
	}
	return Event{Kind: KindOrderUpdate, OrderUpdate: u}, nil
}

func parseTrade(data json.RawMessage) (Event, error) {
	var r rawTrade
	if err := json.Unmarshal(data, &r); err != nil {
		return Event{}, fmt.Errorf("parse trade: %w", err)
	}
	if r.TradeID == "" {
		return Event{}, fmt.Errorf("trade carries no trade_id")
	}
	if r.ClientOrderID == "" && r.ExchangeOrderID == "" {
		return Event{}, fmt.Errorf("trade carries no order id")
	}
	base, err := parseDecimal(r.BaseAmount, true)
	if err != nil {
		return Event{}, fmt.Errorf("trade base_amount: %w", err)
	}
	quote, err := parseDecimal(r.QuoteAmount, false)
	if err != nil {
		return Event{}, fmt.Errorf("trade quote_amount: %w", err)
	}
	price, err := parseDecimal(r.Price, false)
	if err != nil {
		return Event{}, fmt.Errorf("trade price: %w", err)
	}
	fee, err := parseDecimal(r.Fee, false)
	if err != nil {
		return Event{}, fmt.Errorf("trade fee: %w", err)
	}
	f := &order.Fill{
		TradeID:         r.TradeID,
		ClientOrderID:   r.ClientOrderID,
		ExchangeOrderID: r.ExchangeOrderID,
		TradingPair:     r.TradingPair,
		BaseAmount:      base,
		QuoteAmount:     quote,
		Price:           price,
		Fee:             fee,
		FeeAsset:        r.FeeAsset,
		Timestamp:       msToTime(r.Timestamp),
		IsTaker:         r.IsTaker,
	}
	return Event{Kind: KindFill, Fill: f}, nil
}

func parseBalance(data json.RawMessage) (Event, error) {
	var r rawBalance
	if err := json.Unmarshal(data, &r); err != nil {
		return Event{}, fmt.Errorf("parse balance: %w", err)
	}
	if r.Asset == "" {
		return Event{}, fmt.Errorf("balance carries no asset")
	}
	total, _ := decimal.NewFromString(r.Total.String())
	available, _ := decimal.NewFromString(r.Available.String())
	b := &BalanceUpdate{Asset: r.Asset, Total: total, Available: available}
	return Event{Kind: KindBalance, Balance: b}, nil
}

// mapVenueStatus 把交易所状态字符串映射到本地状态机。
func mapVenueStatus(status string) (order.State, error) {
	switch status {
	case "PENDING_CREATE", "PENDING_NEW":
		return order.StatePendingCreate, nil
	case "NEW", "OPEN", "ACCEPTED":
		return order.StateOpen, nil
	case "PARTIALLY_FILLED":
		return order.StatePartiallyFilled, nil
	case "FILLED":
		return order.StateFilled, nil
	case "PENDING_CANCEL", "CANCELING":
		return order.StatePendingCancel, nil
	case "CANCELED", "CANCELLED":
		return order.StateCanceled, nil
	case "REJECTED", "FAILED", "EXPIRED":
		return order.StateFailed, nil
	default:
		return "", fmt.Errorf("unknown venue order status %q", status)
	}
}

// parseDecimal 解析数值字段；required 为真时空值视为错误。
func parseDecimal(n json.Number, required bool) (decimal.Decimal, error) {
	s := n.String()
	if s == "" {
		if required {
			return decimal.Zero, fmt.Errorf("required numeric field missing")
		}
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
