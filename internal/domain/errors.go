package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The transport layer maps these to response codes.
var (
	ErrInsufficientFunds  = errors.New("insufficient_funds")
	ErrInsufficientStock  = errors.New("insufficient_stock")
	ErrInsufficientVolume = errors.New("insufficient_volume")
	ErrWalletNotFound     = errors.New("wallet_not_found")
	ErrStockNotFound      = errors.New("stock_not_found")
	ErrTxNotFound         = errors.New("transaction_not_found")
	ErrNotOwner           = errors.New("not_transaction_owner")
	ErrAlreadyCompleted   = errors.New("transaction_already_completed")
	ErrInvalidSettlement  = errors.New("invalid_settlement")
	ErrLedgerMismatch     = errors.New("ledger_mismatch")
)

// ValidationError represents a request validation failure. Validation
// runs before any side effect, so a rejected order leaves no state.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
