package cache

import (
	"context"

	"github.com/daytrader/matching-engine/internal/domain"
)

// Entity refresh helpers. Wallets cache one document per user; the
// other hashes cache one document per owner containing a map keyed by
// stock or transaction id, matching what the transaction service's read
// endpoints expect to find.

// PutWallet caches the user's wallet document.
func PutWallet(ctx context.Context, c Cache, w *domain.Wallet) error {
	return c.Set(ctx, Wallets, w.UserID, w)
}

// PutPortfolio merges the user's position for one stock into their
// portfolio document.
func PutPortfolio(ctx context.Context, c Cache, p *domain.PortfolioEntry) error {
	return c.Update(ctx, Portfolios, p.UserID, map[string]any{p.StockID: p})
}

// PutStockTx merges one stock transaction into the owner's document.
func PutStockTx(ctx context.Context, c Cache, stx *domain.StockTransaction) error {
	return c.Update(ctx, StockTx, stx.UserID, map[string]any{stx.ID: stx})
}

// PutWalletTx merges one wallet transaction into the owner's document.
func PutWalletTx(ctx context.Context, c Cache, wtx *domain.WalletTransaction) error {
	return c.Update(ctx, WalletTx, wtx.UserID, map[string]any{wtx.ID: wtx})
}

// PutStock caches one stock document.
func PutStock(ctx context.Context, c Cache, st *domain.Stock) error {
	return c.Set(ctx, Stocks, st.ID, st)
}
