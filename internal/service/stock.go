package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/daytrader/matching-engine/internal/cache"
	"github.com/daytrader/matching-engine/internal/domain"
	"github.com/daytrader/matching-engine/internal/engine"
	"github.com/daytrader/matching-engine/internal/ledger"
)

// StockService serves the read-only price listing.
type StockService struct {
	store ledger.Store
	cache cache.Cache
	books *engine.BookManager
	log   *zap.Logger
}

// NewStockService creates a StockService.
func NewStockService(store ledger.Store, c cache.Cache, books *engine.BookManager, log *zap.Logger) *StockService {
	return &StockService{store: store, cache: c, books: books, log: log}
}

// GetStockPrices returns every stock with its current price: the lowest
// resting sell price, or the last stored price when nothing rests.
// Stock records come from the cache when present, the ledger otherwise.
// Sorted by stock name descending.
func (s *StockService) GetStockPrices(ctx context.Context) ([]domain.StockPrice, error) {
	stocks, err := s.listStocks(ctx)
	if err != nil {
		return nil, err
	}

	prices := make([]domain.StockPrice, 0, len(stocks))
	for _, st := range stocks {
		price := st.Price
		if ask, ok := s.books.BestAsk(st.ID); ok {
			price = ask
		}
		prices = append(prices, domain.StockPrice{
			StockID:      st.ID,
			StockName:    st.Name,
			CurrentPrice: price,
		})
	}

	sort.Slice(prices, func(i, j int) bool {
		return prices[i].StockName > prices[j].StockName
	})
	return prices, nil
}

func (s *StockService) listStocks(ctx context.Context) ([]domain.Stock, error) {
	docs, err := s.cache.GetAll(ctx, cache.Stocks)
	if err == nil {
		stocks := make([]domain.Stock, 0, len(docs))
		for _, raw := range docs {
			var st domain.Stock
			if err := json.Unmarshal(raw, &st); err != nil {
				stocks = nil
				break
			}
			stocks = append(stocks, st)
		}
		if stocks != nil {
			return stocks, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("stocks cache read failed", zap.Error(err))
	}

	stocks, err := s.store.Stocks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range stocks {
		if err := cache.PutStock(ctx, s.cache, &stocks[i]); err != nil {
			s.log.Warn("stocks cache prime failed", zap.Error(err))
			break
		}
	}
	return stocks, nil
}
