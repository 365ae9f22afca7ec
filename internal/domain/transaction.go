package domain

import "time"

// OrderStatus is the lifecycle state of a StockTransaction. Statuses only
// move forward: IN_PROGRESS → PARTIALLY_COMPLETE → COMPLETED, with
// CANCELLED reachable from the two non-terminal states.
type OrderStatus string

const (
	OrderStatusInProgress        OrderStatus = "IN_PROGRESS"
	OrderStatusPartiallyComplete OrderStatus = "PARTIALLY_COMPLETE"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// StockTransaction is the durable record of one order leg. Sell orders
// create one IN_PROGRESS when they enter the book; buy orders create one
// COMPLETED at settlement. Partially consumed sells spawn child
// transactions carrying ParentTxID.
type StockTransaction struct {
	ID         string      `json:"stock_tx_id"`
	StockID    string      `json:"stock_id"`
	IsBuy      bool        `json:"is_buy"`
	OrderType  OrderType   `json:"order_type"`
	Price      int64       `json:"stock_price"` // unit price in cents
	Quantity   int64       `json:"quantity"`
	Status     OrderStatus `json:"order_status"`
	ParentTxID string      `json:"parent_stock_tx_id,omitempty"`
	WalletTxID string      `json:"wallet_tx_id,omitempty"`
	UserID     string      `json:"user_id"`
	Timestamp  time.Time   `json:"time_stamp"`
}

// WalletTransaction records one money movement: the buyer's debit or a
// seller's credit, linked to the stock transaction it settles.
type WalletTransaction struct {
	ID        string    `json:"wallet_tx_id"`
	UserID    string    `json:"user_id"`
	StockTxID string    `json:"stock_tx_id"`
	IsDebit   bool      `json:"is_debit"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"time_stamp"`
}

// Wallet holds a user's cash balance in cents. Balance never goes
// negative; debits are rejected before that can happen.
type Wallet struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// PortfolioEntry is a user's position in one stock (composite key
// user_id + stock_id). QuantityOwned never goes negative.
type PortfolioEntry struct {
	UserID        string `json:"user_id"`
	StockID       string `json:"stock_id"`
	QuantityOwned int64  `json:"quantity_owned"`
}

// Stock is a tradable instrument. Price is the last stored price, used
// by getStockPrices when no sell order is resting.
type Stock struct {
	ID    string `json:"stock_id"`
	Name  string `json:"stock_name"`
	Price int64  `json:"current_price"`
}
