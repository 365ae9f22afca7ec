package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/daytrader/matching-engine/internal/domain"
	"github.com/daytrader/matching-engine/internal/engine"
)

// OrderService validates order requests and delegates to the matcher.
// Validation runs before any side effect: a rejected request leaves no
// trace in the book or the ledger.
type OrderService struct {
	matcher *engine.Matcher
	log     *zap.Logger
}

// NewOrderService creates an OrderService.
func NewOrderService(matcher *engine.Matcher, log *zap.Logger) *OrderService {
	return &OrderService{matcher: matcher, log: log}
}

// PlaceStockOrder validates and submits an order for the given user.
func (s *OrderService) PlaceStockOrder(ctx context.Context, userID string, order domain.StockOrder) error {
	if userID == "" {
		return &domain.ValidationError{Message: "user id is required"}
	}
	if order.StockID == "" {
		return &domain.ValidationError{Message: "stock_id is required"}
	}
	if order.OrderType != domain.OrderTypeMarket && order.OrderType != domain.OrderTypeLimit {
		return &domain.ValidationError{Message: "order_type must be MARKET or LIMIT"}
	}
	if order.Quantity <= 0 {
		return &domain.ValidationError{Message: "quantity must be a positive integer"}
	}
	if !order.IsBuy && order.Price <= 0 {
		return &domain.ValidationError{Message: "price must be greater than 0 for sell orders"}
	}
	if order.IsBuy && order.OrderType == domain.OrderTypeLimit && order.Price <= 0 {
		return &domain.ValidationError{Message: "price must be greater than 0 for limit buy orders"}
	}
	if order.IsBuy && order.OrderType == domain.OrderTypeMarket {
		// Market buys clear at whatever resting prices apply.
		order.Price = 0
	}

	return s.matcher.PlaceOrder(ctx, userID, order)
}

// CancelStockTransaction validates and submits a cancellation.
func (s *OrderService) CancelStockTransaction(ctx context.Context, userID, stockTxID string) error {
	if userID == "" {
		return &domain.ValidationError{Message: "user id is required"}
	}
	if stockTxID == "" {
		return &domain.ValidationError{Message: "stock_tx_id is required"}
	}
	return s.matcher.CancelTransaction(ctx, userID, stockTxID)
}
