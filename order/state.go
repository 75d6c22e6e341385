package order

// State represents order lifecycle.
type State string

const (
	StatePendingCreate   State = "PENDING_CREATE"
	StateOpen            State = "OPEN"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StatePendingCancel   State = "PENDING_CANCEL"
	StateCanceled        State = "CANCELED"
	StateFailed          State = "FAILED"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type of an order.
type Type string

const (
	TypeLimit      Type = "LIMIT"
	TypeMarket     Type = "MARKET"
	TypeLimitMaker Type = "LIMIT_MAKER"
)
