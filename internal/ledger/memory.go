package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daytrader/matching-engine/internal/domain"
)

// MemoryStore is a process-local ledger used in development and tests.
// Transactions stage their writes and apply them only on commit, so a
// failed settlement leaves the store untouched, matching the Postgres
// implementation's rollback behavior.
type MemoryStore struct {
	mu         sync.Mutex
	wallets    map[string]*domain.Wallet
	portfolios map[string]*domain.PortfolioEntry // user_id + "/" + stock_id
	stockTxs   map[string]*domain.StockTransaction
	walletTxs  map[string]*domain.WalletTransaction
	stocks     map[string]*domain.Stock
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:    make(map[string]*domain.Wallet),
		portfolios: make(map[string]*domain.PortfolioEntry),
		stockTxs:   make(map[string]*domain.StockTransaction),
		walletTxs:  make(map[string]*domain.WalletTransaction),
		stocks:     make(map[string]*domain.Stock),
	}
}

func portfolioKey(userID, stockID string) string {
	return userID + "/" + stockID
}

// SeedWallet creates or replaces a user's wallet.
func (s *MemoryStore) SeedWallet(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[userID] = &domain.Wallet{UserID: userID, Balance: balance}
}

// SeedPortfolio creates or replaces a user's position in a stock.
func (s *MemoryStore) SeedPortfolio(userID, stockID string, quantity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolios[portfolioKey(userID, stockID)] = &domain.PortfolioEntry{
		UserID:        userID,
		StockID:       stockID,
		QuantityOwned: quantity,
	}
}

// SeedStock registers a tradable stock.
func (s *MemoryStore) SeedStock(id, name string, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stocks[id] = &domain.Stock{ID: id, Name: name, Price: price}
}

// WithinTx runs fn under the store lock against a staging overlay.
// Writes become visible only after fn returns nil.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:      s,
		wallets:    make(map[string]*domain.Wallet),
		portfolios: make(map[string]*domain.PortfolioEntry),
		stockTxs:   make(map[string]*domain.StockTransaction),
		walletTxs:  make(map[string]*domain.WalletTransaction),
	}

	if err := fn(tx); err != nil {
		return err
	}

	// Commit: staged copies become canonical.
	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for k, p := range tx.portfolios {
		s.portfolios[k] = p
	}
	for id, stx := range tx.stockTxs {
		s.stockTxs[id] = stx
	}
	for id, wtx := range tx.walletTxs {
		s.walletTxs[id] = wtx
	}
	return nil
}

// Wallet returns a copy of the user's wallet.
func (s *MemoryStore) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

// Portfolio returns a copy of the user's position in a stock, or a
// zero-quantity entry when none exists.
func (s *MemoryStore) Portfolio(ctx context.Context, userID, stockID string) (*domain.PortfolioEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.portfolios[portfolioKey(userID, stockID)]
	if !ok {
		return &domain.PortfolioEntry{UserID: userID, StockID: stockID}, nil
	}
	cp := *p
	return &cp, nil
}

// StockTransaction returns a copy of the transaction record.
func (s *MemoryStore) StockTransaction(ctx context.Context, txID string) (*domain.StockTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stx, ok := s.stockTxs[txID]
	if !ok {
		return nil, domain.ErrTxNotFound
	}
	cp := *stx
	return &cp, nil
}

// WalletTransaction returns a copy of the wallet transaction record.
func (s *MemoryStore) WalletTransaction(ctx context.Context, txID string) (*domain.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wtx, ok := s.walletTxs[txID]
	if !ok {
		return nil, domain.ErrTxNotFound
	}
	cp := *wtx
	return &cp, nil
}

// TransactionsByUser returns copies of the user's stock transactions
// sorted by timestamp then id.
func (s *MemoryStore) TransactionsByUser(userID string) []domain.StockTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.StockTransaction
	for _, stx := range s.stockTxs {
		if stx.UserID == userID {
			out = append(out, *stx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WalletTransactionsByUser returns copies of the user's wallet
// transactions sorted by timestamp then id.
func (s *MemoryStore) WalletTransactionsByUser(userID string) []domain.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.WalletTransaction
	for _, wtx := range s.walletTxs {
		if wtx.UserID == userID {
			out = append(out, *wtx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stocks returns all registered stocks sorted by id.
func (s *MemoryStore) Stocks(ctx context.Context) ([]domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// memTx stages writes against the base store. The store lock is held for
// the whole transaction, so reads through the overlay are consistent.
type memTx struct {
	store      *MemoryStore
	wallets    map[string]*domain.Wallet
	portfolios map[string]*domain.PortfolioEntry
	stockTxs   map[string]*domain.StockTransaction
	walletTxs  map[string]*domain.WalletTransaction
}

func (tx *memTx) wallet(userID string) (*domain.Wallet, error) {
	if w, ok := tx.wallets[userID]; ok {
		return w, nil
	}
	w, ok := tx.store.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	cp := *w
	tx.wallets[userID] = &cp
	return &cp, nil
}

func (tx *memTx) WalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error) {
	w, err := tx.wallet(userID)
	if err != nil {
		return nil, err
	}
	cp := *w
	return &cp, nil
}

func (tx *memTx) AdjustWallet(ctx context.Context, userID string, delta int64) error {
	w, err := tx.wallet(userID)
	if err != nil {
		return err
	}
	if w.Balance+delta < 0 {
		return domain.ErrInsufficientFunds
	}
	w.Balance += delta
	return nil
}

func (tx *memTx) AdjustPortfolio(ctx context.Context, userID, stockID string, delta int64) error {
	key := portfolioKey(userID, stockID)
	p, ok := tx.portfolios[key]
	if !ok {
		if base, exists := tx.store.portfolios[key]; exists {
			cp := *base
			p = &cp
		} else {
			p = &domain.PortfolioEntry{UserID: userID, StockID: stockID}
		}
		tx.portfolios[key] = p
	}
	if p.QuantityOwned+delta < 0 {
		return domain.ErrInsufficientStock
	}
	p.QuantityOwned += delta
	return nil
}

func (tx *memTx) CreateStockTransaction(ctx context.Context, stx *domain.StockTransaction) error {
	if stx.ID == "" {
		stx.ID = uuid.New().String()
	}
	if stx.Timestamp.IsZero() {
		stx.Timestamp = time.Now()
	}
	cp := *stx
	tx.stockTxs[stx.ID] = &cp
	return nil
}

func (tx *memTx) stockTx(txID string) (*domain.StockTransaction, error) {
	if stx, ok := tx.stockTxs[txID]; ok {
		return stx, nil
	}
	stx, ok := tx.store.stockTxs[txID]
	if !ok {
		return nil, domain.ErrTxNotFound
	}
	cp := *stx
	tx.stockTxs[txID] = &cp
	return &cp, nil
}

func (tx *memTx) StockTransactionForUpdate(ctx context.Context, txID string) (*domain.StockTransaction, error) {
	stx, err := tx.stockTx(txID)
	if err != nil {
		return nil, err
	}
	cp := *stx
	return &cp, nil
}

func (tx *memTx) SetStockTransactionStatus(ctx context.Context, txID string, status domain.OrderStatus, quantity int64) error {
	stx, err := tx.stockTx(txID)
	if err != nil {
		return err
	}
	stx.Status = status
	if quantity >= 0 {
		stx.Quantity = quantity
	}
	return nil
}

func (tx *memTx) LinkWalletTransaction(ctx context.Context, stockTxID, walletTxID string) error {
	stx, err := tx.stockTx(stockTxID)
	if err != nil {
		return err
	}
	stx.WalletTxID = walletTxID
	return nil
}

func (tx *memTx) CreateWalletTransaction(ctx context.Context, wtx *domain.WalletTransaction) error {
	if wtx.ID == "" {
		wtx.ID = uuid.New().String()
	}
	if wtx.Timestamp.IsZero() {
		wtx.Timestamp = time.Now()
	}
	cp := *wtx
	tx.walletTxs[wtx.ID] = &cp
	return nil
}
