package domain

import "time"

// OrderType distinguishes market orders from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// StockOrder is the order submission payload as delivered by the RPC
// transport. It is ephemeral: the engine turns it into a resting
// SellOrder or a transient BuyOrder and never persists it directly.
type StockOrder struct {
	StockID   string    `json:"stock_id"`
	IsBuy     bool      `json:"is_buy"`
	OrderType OrderType `json:"order_type"`
	Quantity  int64     `json:"quantity"`
	Price     int64     `json:"price"` // required for sells and limit buys, ignored for market buys
}

// SellOrder is a resting entry on a stock's sell book. Quantity is the
// quantity the order was placed with; AmountMatched grows as partial
// fills consume it. The book orders entries by price ascending, then
// creation time ascending (price-time priority), then transaction id.
type SellOrder struct {
	UserID        string
	StockID       string
	Quantity      int64
	Price         int64 // unit price in cents
	CreatedAt     time.Time
	OrderType     OrderType
	StockTxID     string // durable transaction backing this entry
	AmountMatched int64
	IsChild       bool
	ParentTxID    string // set only on child entries
}

// Remaining returns the quantity still available to match.
func (o *SellOrder) Remaining() int64 {
	return o.Quantity - o.AmountMatched
}

// BuyOrder is a transient buy instruction. It is fully resolved (matched
// or rejected) within a single matching call and never rests on a book;
// only its resulting StockTransaction is persisted.
type BuyOrder struct {
	UserID    string
	StockID   string
	Quantity  int64
	Price     int64 // limit price; 0 for market buys
	OrderType OrderType
	CreatedAt time.Time
}

// Fill pairs a resting sell order with the quantity taken from it by one
// buy. Partial marks fills that consumed only part of the resting order:
// settlement splits a child transaction off the parent for those.
type Fill struct {
	Order    *SellOrder
	Quantity int64
	Partial  bool
}

// Amount returns the money owed to the seller for this fill, at the
// seller's own resting price.
func (f Fill) Amount() int64 {
	return f.Order.Price * f.Quantity
}

// StockPrice is one row of the getStockPrices response: the best ask for
// a stock, or its last stored price when nothing is resting.
type StockPrice struct {
	StockID      string `json:"stock_id"`
	StockName    string `json:"stock_name"`
	CurrentPrice int64  `json:"current_price"`
}
