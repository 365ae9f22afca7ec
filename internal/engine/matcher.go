package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/daytrader/matching-engine/internal/cache"
	"github.com/daytrader/matching-engine/internal/domain"
	"github.com/daytrader/matching-engine/internal/ledger"
)

// Settler applies an agreed trade atomically against the ledger. The
// matcher calls it before committing any book mutation, so a settlement
// failure rejects the buy with no residual state.
type Settler interface {
	Settle(ctx context.Context, buy *domain.BuyOrder, fills []domain.Fill, clearingPrice int64) error
}

// Matcher is the matching engine: it accepts incoming orders, rests
// sells on the per-stock book, matches buys against a snapshot of the
// book, and hands successful matches to the settler.
type Matcher struct {
	books   *BookManager
	store   ledger.Store
	cache   cache.Cache
	settler Settler
	log     *zap.Logger
}

// NewMatcher creates a Matcher with the given dependencies.
func NewMatcher(books *BookManager, store ledger.Store, c cache.Cache, settler Settler, log *zap.Logger) *Matcher {
	return &Matcher{
		books:   books,
		store:   store,
		cache:   c,
		settler: settler,
		log:     log,
	}
}

// PlaceOrder processes a validated incoming order. The per-stock lock is
// held for the entire operation: snapshot, match, settle, book commit.
func (m *Matcher) PlaceOrder(ctx context.Context, userID string, order domain.StockOrder) error {
	lk := m.books.LockStock(order.StockID)
	lk.Lock()
	defer lk.Unlock()

	if order.IsBuy {
		return m.placeBuy(ctx, userID, order)
	}
	return m.placeSell(ctx, userID, order)
}

// placeSell withdraws the quantity from the seller's portfolio and
// creates the IN_PROGRESS transaction in one ledger transaction, then
// rests the order on the book.
func (m *Matcher) placeSell(ctx context.Context, userID string, order domain.StockOrder) error {
	stx := &domain.StockTransaction{
		StockID:   order.StockID,
		IsBuy:     false,
		OrderType: order.OrderType,
		Price:     order.Price,
		Quantity:  order.Quantity,
		Status:    domain.OrderStatusInProgress,
		UserID:    userID,
	}

	err := m.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.AdjustPortfolio(ctx, userID, order.StockID, -order.Quantity); err != nil {
			return err
		}
		return tx.CreateStockTransaction(ctx, stx)
	})
	if err != nil {
		return err
	}

	m.refreshPortfolio(ctx, userID, order.StockID)
	m.refreshStockTx(ctx, stx)

	m.books.Get(order.StockID).Insert(&domain.SellOrder{
		UserID:    userID,
		StockID:   order.StockID,
		Quantity:  order.Quantity,
		Price:     order.Price,
		CreatedAt: stx.Timestamp,
		OrderType: order.OrderType,
		StockTxID: stx.ID,
	})

	m.log.Info("sell order resting",
		zap.String("stock_id", order.StockID),
		zap.String("stock_tx_id", stx.ID),
		zap.Int64("quantity", order.Quantity),
		zap.Int64("price", order.Price),
	)
	return nil
}

// placeBuy matches the buy against a deep copy of the stock's book and
// installs the copy only after settlement commits. A buy is fully filled
// or fully rejected; nothing partial survives a failure.
func (m *Matcher) placeBuy(ctx context.Context, userID string, order domain.StockOrder) error {
	buy := &domain.BuyOrder{
		UserID:    userID,
		StockID:   order.StockID,
		Quantity:  order.Quantity,
		OrderType: order.OrderType,
		CreatedAt: time.Now(),
	}
	if order.OrderType == domain.OrderTypeLimit {
		buy.Price = order.Price
	}

	working := m.books.Get(order.StockID).Clone()

	fills, clearing, err := matchBuy(working, buy)
	if err != nil {
		return err
	}

	if err := m.settler.Settle(ctx, buy, fills, clearing); err != nil {
		return err
	}

	m.books.Replace(order.StockID, working)

	m.log.Info("buy order settled",
		zap.String("stock_id", order.StockID),
		zap.Int64("quantity", order.Quantity),
		zap.Int64("clearing_price", clearing),
		zap.Int("fills", len(fills)),
	)
	return nil
}

// matchBuy reduces the working book against the buy's quantity, lowest
// price first. Resting orders owned by the buyer are set aside while
// scanning and restored before the next pop; if only self-owned volume
// remains the match fails. A LIMIT buy stops at the first resting price
// above its limit. On success the returned fills cover the quantity
// exactly and the clearing price is the sum of each fill at its seller's
// own resting price.
func matchBuy(book *SellBook, buy *domain.BuyOrder) ([]domain.Fill, int64, error) {
	remaining := buy.Quantity
	var fills []domain.Fill
	var skipped []*domain.SellOrder

	restore := func() {
		for _, o := range skipped {
			book.Insert(o)
		}
		skipped = skipped[:0]
	}

	for remaining > 0 {
		s, ok := book.PopMin()
		if !ok {
			restore()
			return nil, 0, domain.ErrInsufficientVolume
		}
		if s.UserID == buy.UserID {
			skipped = append(skipped, s)
			continue
		}
		restore()

		if buy.OrderType == domain.OrderTypeLimit && s.Price > buy.Price {
			book.Insert(s)
			return nil, 0, domain.ErrInsufficientVolume
		}

		avail := s.Remaining()
		switch {
		case avail == remaining:
			// Exact match: s is fully consumed and stays off the book.
			s.AmountMatched += remaining
			fills = append(fills, domain.Fill{Order: s, Quantity: remaining})
			remaining = 0
		case avail > remaining:
			// s outlives the buy: shrink it, rest it again, and mark the
			// fill for a child split at settlement.
			s.AmountMatched += remaining
			book.Insert(s)
			fills = append(fills, domain.Fill{Order: s, Quantity: remaining, Partial: true})
			remaining = 0
		default:
			// s is fully consumed but the buy needs more.
			s.AmountMatched += avail
			fills = append(fills, domain.Fill{Order: s, Quantity: avail})
			remaining -= avail
		}
	}
	restore()

	var clearing int64
	for _, f := range fills {
		clearing += f.Amount()
	}
	return fills, clearing, nil
}

// CancelTransaction cancels a still-resting sell order: removes it from
// the book, marks the transaction CANCELLED, and refunds the unmatched
// quantity to the seller's portfolio. Runs under the stock's lock so it
// cannot race an in-flight match.
func (m *Matcher) CancelTransaction(ctx context.Context, userID, stockTxID string) error {
	stx, err := m.store.StockTransaction(ctx, stockTxID)
	if err != nil {
		return err
	}
	if stx.UserID != userID {
		return domain.ErrNotOwner
	}

	lk := m.books.LockStock(stx.StockID)
	lk.Lock()
	defer lk.Unlock()

	book := m.books.Get(stx.StockID)
	resting, err := book.RemoveByTxID(stockTxID)
	if err != nil {
		// Nothing resting: the order was already fully matched or cancelled.
		return domain.ErrAlreadyCompleted
	}
	refund := resting.Remaining()

	err = m.store.WithinTx(ctx, func(tx ledger.Tx) error {
		cur, err := tx.StockTransactionForUpdate(ctx, stockTxID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return domain.ErrAlreadyCompleted
		}
		if err := tx.SetStockTransactionStatus(ctx, stockTxID, domain.OrderStatusCancelled, -1); err != nil {
			return err
		}
		return tx.AdjustPortfolio(ctx, userID, stx.StockID, refund)
	})
	if err != nil {
		// Ledger refused the cancellation: put the order back.
		book.Insert(resting)
		return err
	}

	m.refreshPortfolio(ctx, userID, stx.StockID)
	stx.Status = domain.OrderStatusCancelled
	m.refreshStockTx(ctx, stx)

	m.log.Info("sell order cancelled",
		zap.String("stock_id", stx.StockID),
		zap.String("stock_tx_id", stockTxID),
		zap.Int64("refunded_quantity", refund),
	)
	return nil
}

// refreshPortfolio re-reads the user's position from the ledger and
// caches it. Best effort: failures are logged, never propagated.
func (m *Matcher) refreshPortfolio(ctx context.Context, userID, stockID string) {
	p, err := m.store.Portfolio(ctx, userID, stockID)
	if err == nil {
		err = cache.PutPortfolio(ctx, m.cache, p)
	}
	if err != nil {
		m.log.Warn("portfolio cache refresh failed",
			zap.String("user_id", userID), zap.Error(err))
	}
}

func (m *Matcher) refreshStockTx(ctx context.Context, stx *domain.StockTransaction) {
	if err := cache.PutStockTx(ctx, m.cache, stx); err != nil {
		m.log.Warn("stock_tx cache refresh failed",
			zap.String("stock_tx_id", stx.ID), zap.Error(err))
	}
}
