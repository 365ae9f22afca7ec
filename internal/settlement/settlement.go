// Package settlement applies agreed trades atomically: one buyer, one or
// more sellers, a clearing price. All durable writes for a trade happen
// inside a single ledger transaction; cache refresh follows the commit
// and is best effort.
package settlement

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/daytrader/matching-engine/internal/cache"
	"github.com/daytrader/matching-engine/internal/domain"
	"github.com/daytrader/matching-engine/internal/ledger"
)

// Service settles trades against the ledger store.
type Service struct {
	store ledger.Store
	cache cache.Cache
	log   *zap.Logger
}

// NewService creates a settlement Service.
func NewService(store ledger.Store, c cache.Cache, log *zap.Logger) *Service {
	return &Service{store: store, cache: c, log: log}
}

// Settle moves the clearing price from the buyer to the sellers, moves
// the stock to the buyer, and writes every transaction record, all in
// one ledger transaction. Every involved wallet is locked up front in
// ascending user-id order, so concurrent settlements sharing users
// acquire row locks in a consistent global order.
//
// Before commit the seller credits are summed and checked against the
// clearing price; a mismatch aborts the whole transaction.
func (s *Service) Settle(ctx context.Context, buy *domain.BuyOrder, fills []domain.Fill, clearingPrice int64) error {
	if buy == nil || len(fills) == 0 || clearingPrice <= 0 {
		return domain.ErrInvalidSettlement
	}

	buyerTx := &domain.StockTransaction{
		StockID:   buy.StockID,
		IsBuy:     true,
		OrderType: buy.OrderType,
		Price:     clearingPrice / buy.Quantity,
		Quantity:  buy.Quantity,
		Status:    domain.OrderStatusCompleted,
		UserID:    buy.UserID,
	}

	ordered := make([]domain.Fill, len(fills))
	copy(ordered, fills)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order.UserID < ordered[j].Order.UserID
	})

	var walletTxs []*domain.WalletTransaction
	var stockTxIDs []string

	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		wallets, err := lockWallets(ctx, tx, buy, ordered)
		if err != nil {
			return err
		}
		if wallets[buy.UserID].Balance < clearingPrice {
			return domain.ErrInsufficientFunds
		}

		if err := tx.AdjustWallet(ctx, buy.UserID, -clearingPrice); err != nil {
			return err
		}
		if err := tx.AdjustPortfolio(ctx, buy.UserID, buy.StockID, buy.Quantity); err != nil {
			return err
		}
		if err := tx.CreateStockTransaction(ctx, buyerTx); err != nil {
			return err
		}
		stockTxIDs = append(stockTxIDs, buyerTx.ID)

		debit := &domain.WalletTransaction{
			UserID:    buy.UserID,
			StockTxID: buyerTx.ID,
			IsDebit:   true,
			Amount:    clearingPrice,
		}
		if err := tx.CreateWalletTransaction(ctx, debit); err != nil {
			return err
		}
		if err := tx.LinkWalletTransaction(ctx, buyerTx.ID, debit.ID); err != nil {
			return err
		}
		buyerTx.WalletTxID = debit.ID
		walletTxs = append(walletTxs, debit)

		var total int64
		for _, f := range ordered {
			amount := f.Amount()

			if err := tx.AdjustWallet(ctx, f.Order.UserID, amount); err != nil {
				return err
			}

			sellerTxID := f.Order.StockTxID
			if f.Partial {
				// The resting order survives with a reduced remainder;
				// the matched slice becomes a child transaction.
				if err := tx.SetStockTransactionStatus(ctx, f.Order.StockTxID,
					domain.OrderStatusPartiallyComplete, f.Order.Remaining()); err != nil {
					return err
				}
				child := &domain.StockTransaction{
					StockID:    f.Order.StockID,
					IsBuy:      false,
					OrderType:  f.Order.OrderType,
					Price:      f.Order.Price,
					Quantity:   f.Quantity,
					Status:     domain.OrderStatusCompleted,
					ParentTxID: f.Order.StockTxID,
					UserID:     f.Order.UserID,
				}
				if err := tx.CreateStockTransaction(ctx, child); err != nil {
					return err
				}
				sellerTxID = child.ID
			} else {
				if err := tx.SetStockTransactionStatus(ctx, f.Order.StockTxID,
					domain.OrderStatusCompleted, -1); err != nil {
					return err
				}
			}
			stockTxIDs = append(stockTxIDs, f.Order.StockTxID, sellerTxID)

			credit := &domain.WalletTransaction{
				UserID:    f.Order.UserID,
				StockTxID: sellerTxID,
				IsDebit:   false,
				Amount:    amount,
			}
			if err := tx.CreateWalletTransaction(ctx, credit); err != nil {
				return err
			}
			if err := tx.LinkWalletTransaction(ctx, sellerTxID, credit.ID); err != nil {
				return err
			}
			walletTxs = append(walletTxs, credit)

			total += amount
		}

		if total != clearingPrice {
			return domain.ErrLedgerMismatch
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.refresh(ctx, buy, ordered, stockTxIDs, walletTxs)
	return nil
}

// lockWallets takes a row lock on every wallet the settlement will touch,
// in ascending user-id order. A concurrent settlement sharing any subset
// of users follows the same order, so the locks never cross.
func lockWallets(ctx context.Context, tx ledger.Tx, buy *domain.BuyOrder, fills []domain.Fill) (map[string]*domain.Wallet, error) {
	seen := map[string]bool{buy.UserID: true}
	ids := []string{buy.UserID}
	for _, f := range fills {
		if !seen[f.Order.UserID] {
			seen[f.Order.UserID] = true
			ids = append(ids, f.Order.UserID)
		}
	}
	sort.Strings(ids)

	wallets := make(map[string]*domain.Wallet, len(ids))
	for _, id := range ids {
		w, err := tx.WalletForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}
	return wallets, nil
}

// refresh synchronously updates every cache entry the settlement
// touched. The ledger has already committed: a cache failure is logged
// and never rolled back into the durable store.
func (s *Service) refresh(ctx context.Context, buy *domain.BuyOrder, fills []domain.Fill, stockTxIDs []string, walletTxs []*domain.WalletTransaction) {
	users := map[string]bool{buy.UserID: true}
	for _, f := range fills {
		users[f.Order.UserID] = true
	}
	for userID := range users {
		w, err := s.store.Wallet(ctx, userID)
		if err == nil {
			err = cache.PutWallet(ctx, s.cache, w)
		}
		if err != nil {
			s.log.Warn("wallet cache refresh failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	p, err := s.store.Portfolio(ctx, buy.UserID, buy.StockID)
	if err == nil {
		err = cache.PutPortfolio(ctx, s.cache, p)
	}
	if err != nil {
		s.log.Warn("portfolio cache refresh failed", zap.String("user_id", buy.UserID), zap.Error(err))
	}

	seen := map[string]bool{}
	for _, id := range stockTxIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		stx, err := s.store.StockTransaction(ctx, id)
		if err == nil {
			err = cache.PutStockTx(ctx, s.cache, stx)
		}
		if err != nil {
			s.log.Warn("stock_tx cache refresh failed", zap.String("stock_tx_id", id), zap.Error(err))
		}
	}

	for _, wtx := range walletTxs {
		if err := cache.PutWalletTx(ctx, s.cache, wtx); err != nil {
			s.log.Warn("wallet_tx cache refresh failed", zap.String("wallet_tx_id", wtx.ID), zap.Error(err))
		}
	}
}
