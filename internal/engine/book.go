package engine

import (
	"sync"

	"github.com/google/btree"

	"github.com/daytrader/matching-engine/internal/domain"
)

// sellLess defines ordering for the sell book: price ascending, then
// created_at ascending, then transaction id ascending. Min() returns the
// best ask (lowest price, earliest time).
func sellLess(a, b *domain.SellOrder) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.StockTxID < b.StockTxID
}

// SellBook holds the resting sell orders for one stock in a B-tree with
// price-time priority. Buy orders never rest here: they are matched
// immediately and discarded.
type SellBook struct {
	stockID string
	asks    *btree.BTreeG[*domain.SellOrder]
}

// NewSellBook creates an empty sell book for the given stock.
func NewSellBook(stockID string) *SellBook {
	const degree = 32
	return &SellBook{
		stockID: stockID,
		asks:    btree.NewG[*domain.SellOrder](degree, sellLess),
	}
}

// Insert adds a resting order to the book.
func (b *SellBook) Insert(o *domain.SellOrder) {
	b.asks.ReplaceOrInsert(o)
}

// PopMin removes and returns the lowest-price resting order.
func (b *SellBook) PopMin() (*domain.SellOrder, bool) {
	return b.asks.DeleteMin()
}

// Min returns the lowest-price resting order without removing it.
func (b *SellBook) Min() (*domain.SellOrder, bool) {
	return b.asks.Min()
}

// RemoveByTxID removes the resting order backed by the given stock
// transaction id. Returns domain.ErrTxNotFound when no such order rests.
// Linear scan: cancellation is rare relative to matching.
func (b *SellBook) RemoveByTxID(txID string) (*domain.SellOrder, error) {
	var found *domain.SellOrder
	b.asks.Ascend(func(o *domain.SellOrder) bool {
		if o.StockTxID == txID {
			found = o
			return false
		}
		return true
	})
	if found == nil {
		return nil, domain.ErrTxNotFound
	}
	b.asks.Delete(found)
	return found, nil
}

// Ascend iterates resting orders from lowest price upward. The callback
// returns true to continue, false to stop.
func (b *SellBook) Ascend(fn func(*domain.SellOrder) bool) {
	b.asks.Ascend(fn)
}

// Len returns the number of resting orders.
func (b *SellBook) Len() int {
	return b.asks.Len()
}

// Clone returns a deep copy of the book. Matching mutates the copy and
// the live book is swapped for it only once settlement has committed, so
// a failed match leaves the live book untouched.
func (b *SellBook) Clone() *SellBook {
	cp := NewSellBook(b.stockID)
	b.asks.Ascend(func(o *domain.SellOrder) bool {
		oc := *o
		cp.asks.ReplaceOrInsert(&oc)
		return true
	})
	return cp
}

// BookManager owns the sell book and the serialization lock for every
// stock. Matching, insertion, and cancellation for one stock run under
// that stock's lock; different stocks proceed in parallel.
type BookManager struct {
	mu    sync.Mutex
	books map[string]*SellBook
	locks map[string]*sync.Mutex
}

// NewBookManager creates an empty BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*SellBook),
		locks: make(map[string]*sync.Mutex),
	}
}

// LockStock returns the mutex serializing all book operations for the
// stock, creating it on first use. The caller locks and unlocks it.
func (bm *BookManager) LockStock(stockID string) *sync.Mutex {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	lk, ok := bm.locks[stockID]
	if !ok {
		lk = &sync.Mutex{}
		bm.locks[stockID] = lk
	}
	return lk
}

// Get returns the sell book for the stock, creating one if absent. Call
// only while holding the stock's lock.
func (bm *BookManager) Get(stockID string) *SellBook {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	book, ok := bm.books[stockID]
	if !ok {
		book = NewSellBook(stockID)
		bm.books[stockID] = book
	}
	return book
}

// Replace installs a new book for the stock. Call only while holding the
// stock's lock, after settlement has committed.
func (bm *BookManager) Replace(stockID string, book *SellBook) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.books[stockID] = book
}

// BestAsk returns the lowest resting sell price for the stock.
func (bm *BookManager) BestAsk(stockID string) (int64, bool) {
	lk := bm.LockStock(stockID)
	lk.Lock()
	defer lk.Unlock()

	min, ok := bm.Get(stockID).Min()
	if !ok {
		return 0, false
	}
	return min.Price, true
}
