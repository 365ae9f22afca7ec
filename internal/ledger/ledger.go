// Package ledger defines the durable store contract for wallets,
// portfolios, and transaction records, plus its Postgres and in-memory
// implementations. The ledger is the source of truth; the cache layer is
// rebuilt from it.
package ledger

import (
	"context"

	"github.com/daytrader/matching-engine/internal/domain"
)

// Store is the durable ledger. WithinTx is the unit of atomicity for
// settlement and order placement: either every write inside fn commits
// or none do.
type Store interface {
	// WithinTx runs fn inside one transaction. A non-nil error from fn
	// rolls back every write and is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Wallet(ctx context.Context, userID string) (*domain.Wallet, error)
	Portfolio(ctx context.Context, userID, stockID string) (*domain.PortfolioEntry, error)
	StockTransaction(ctx context.Context, txID string) (*domain.StockTransaction, error)
	Stocks(ctx context.Context) ([]domain.Stock, error)
}

// Tx exposes the mutations available inside a ledger transaction. Reads
// take row-level locks (select-for-update) so concurrent settlements
// cannot lose updates.
type Tx interface {
	WalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error)
	// AdjustWallet applies delta to the user's balance. A delta that
	// would drive the balance negative fails with ErrInsufficientFunds.
	AdjustWallet(ctx context.Context, userID string, delta int64) error

	// AdjustPortfolio applies delta to the user's position, creating the
	// entry when a positive delta targets a missing one. A delta that
	// would drive the quantity negative fails with ErrInsufficientStock.
	AdjustPortfolio(ctx context.Context, userID, stockID string, delta int64) error

	// CreateStockTransaction persists tx, assigning ID and Timestamp
	// when unset.
	CreateStockTransaction(ctx context.Context, stx *domain.StockTransaction) error
	StockTransactionForUpdate(ctx context.Context, txID string) (*domain.StockTransaction, error)
	// SetStockTransactionStatus moves the transaction to status. A
	// non-negative quantity also rewrites the recorded quantity (used
	// when a partial fill shrinks the resting remainder).
	SetStockTransactionStatus(ctx context.Context, txID string, status domain.OrderStatus, quantity int64) error
	LinkWalletTransaction(ctx context.Context, stockTxID, walletTxID string) error

	// CreateWalletTransaction persists wtx, assigning ID and Timestamp
	// when unset.
	CreateWalletTransaction(ctx context.Context, wtx *domain.WalletTransaction) error
}
