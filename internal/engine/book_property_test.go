package engine

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/daytrader/matching-engine/internal/domain"
)

// genSellOrder generates a random resting sell order with a small
// timestamp range to encourage collisions and exercise tiebreaking.
func genSellOrder(id int) *rapid.Generator[*domain.SellOrder] {
	return rapid.Custom(func(t *rapid.T) *domain.SellOrder {
		price := rapid.Int64Range(1, 10000).Draw(t, "price")
		secOffset := rapid.IntRange(0, 20).Draw(t, "secOffset")
		txID := fmt.Sprintf("tx-%04d", id)

		return &domain.SellOrder{
			UserID:    fmt.Sprintf("user-%d", id%5),
			StockID:   "TEST",
			Quantity:  rapid.Int64Range(1, 100).Draw(t, "qty"),
			Price:     price,
			CreatedAt: time.Date(2025, 1, 1, 0, 0, secOffset, 0, time.UTC),
			OrderType: domain.OrderTypeLimit,
			StockTxID: txID,
		}
	})
}

func TestProperty_SellBookSortingInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "numOrders")
		book := NewSellBook("TEST")

		for i := 0; i < n; i++ {
			book.Insert(genSellOrder(i).Draw(t, fmt.Sprintf("sell-%d", i)))
		}

		// Ascend must yield price ascending, then created_at ascending,
		// then stock_tx_id ascending.
		var prev *domain.SellOrder
		book.Ascend(func(o *domain.SellOrder) bool {
			if prev != nil {
				if o.Price < prev.Price {
					t.Fatalf("price should be ascending, got %d after %d", o.Price, prev.Price)
				}
				if o.Price == prev.Price {
					if o.CreatedAt.Before(prev.CreatedAt) {
						t.Fatalf("same price %d, created_at should be ascending, got %v after %v",
							o.Price, o.CreatedAt, prev.CreatedAt)
					}
					if o.CreatedAt.Equal(prev.CreatedAt) && o.StockTxID < prev.StockTxID {
						t.Fatalf("same price %d and time, stock_tx_id should be ascending, got %q after %q",
							o.Price, o.StockTxID, prev.StockTxID)
					}
				}
			}
			prev = o
			return true
		})
	})
}

func TestProperty_PopMinDrainsInOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "numOrders")
		book := NewSellBook("TEST")

		for i := 0; i < n; i++ {
			book.Insert(genSellOrder(i).Draw(t, fmt.Sprintf("sell-%d", i)))
		}

		var prev *domain.SellOrder
		for {
			o, ok := book.PopMin()
			if !ok {
				break
			}
			if prev != nil && sellLess(o, prev) {
				t.Fatalf("PopMin out of order: %q (price %d) after %q (price %d)",
					o.StockTxID, o.Price, prev.StockTxID, prev.Price)
			}
			prev = o
		}
		if book.Len() != 0 {
			t.Fatalf("expected drained book, got len %d", book.Len())
		}
	})
}

func TestProperty_CloneMatchesOriginal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "numOrders")
		book := NewSellBook("TEST")

		for i := 0; i < n; i++ {
			book.Insert(genSellOrder(i).Draw(t, fmt.Sprintf("sell-%d", i)))
		}

		cp := book.Clone()
		if cp.Len() != book.Len() {
			t.Fatalf("clone len %d != original len %d", cp.Len(), book.Len())
		}

		// Draining the clone leaves the original intact.
		for {
			if _, ok := cp.PopMin(); !ok {
				break
			}
		}
		if book.Len() != n {
			t.Fatalf("original mutated by clone drain: len %d, want %d", book.Len(), n)
		}
	})
}
