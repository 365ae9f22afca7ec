package transport

import (
	"context"
	"net/http"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/daytrader/matching-engine/internal/cache"
	"github.com/daytrader/matching-engine/internal/domain"
	"github.com/daytrader/matching-engine/internal/engine"
	"github.com/daytrader/matching-engine/internal/ledger"
	"github.com/daytrader/matching-engine/internal/service"
	"github.com/daytrader/matching-engine/internal/settlement"
)

// newTestRPCServer wires an RPCServer to the in-memory stack. The AMQP
// connection is never dialed: handlers are exercised directly.
func newTestRPCServer(t *testing.T) (*RPCServer, *ledger.MemoryStore) {
	t.Helper()
	books := engine.NewBookManager()
	store := ledger.NewMemoryStore()
	c := cache.NewMemory()
	log := zap.NewNop()
	matcher := engine.NewMatcher(books, store, c, settlement.NewService(store, c, log), log)
	orders := service.NewOrderService(matcher, log)
	stocks := service.NewStockService(store, c, books, log)
	return NewRPCServer("amqp://unused", "matching-engine", testSecret, orders, stocks, log), store
}

func delivery(t *testing.T, userID string, body string) amqp.Delivery {
	t.Helper()
	d := amqp.Delivery{Body: []byte(body)}
	if userID != "" {
		d.Headers = amqp.Table{userDataHeader: userToken(t, userID)}
	}
	return d
}

func TestRPC_StockOrder_Sell(t *testing.T) {
	s, store := newTestRPCServer(t)
	store.SeedPortfolio("alice", "google", 10)

	resp := s.handleStockOrder(context.Background(), delivery(t, "alice",
		`{"stock_id":"google","is_buy":false,"order_type":"LIMIT","quantity":5,"price":100}`))
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}

	p, _ := store.Portfolio(context.Background(), "alice", "google")
	if p.QuantityOwned != 5 {
		t.Errorf("expected portfolio 5 after sell, got %d", p.QuantityOwned)
	}
}

func TestRPC_StockOrder_MissingToken(t *testing.T) {
	s, _ := newTestRPCServer(t)

	resp := s.handleStockOrder(context.Background(), delivery(t, "",
		`{"stock_id":"google","is_buy":false,"order_type":"LIMIT","quantity":5,"price":100}`))
	if resp.Success {
		t.Fatal("expected failure without token")
	}
	if resp.Error.Status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.Error.Status)
	}
}

func TestRPC_StockOrder_MalformedBody(t *testing.T) {
	s, _ := newTestRPCServer(t)

	resp := s.handleStockOrder(context.Background(), delivery(t, "alice", `{broken`))
	if resp.Success {
		t.Fatal("expected failure for malformed body")
	}
	if resp.Error.Code != "validation_error" {
		t.Errorf("expected validation_error, got %q", resp.Error.Code)
	}
}

func TestRPC_StockOrder_DomainErrorMapped(t *testing.T) {
	s, store := newTestRPCServer(t)
	store.SeedWallet("bob", 1000)

	resp := s.handleStockOrder(context.Background(), delivery(t, "bob",
		`{"stock_id":"google","is_buy":true,"order_type":"MARKET","quantity":5}`))
	if resp.Success {
		t.Fatal("expected failure on empty book")
	}
	if resp.Error.Code != "insufficient_volume" {
		t.Errorf("expected insufficient_volume, got %q", resp.Error.Code)
	}
	if resp.Error.Status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.Error.Status)
	}
}

func TestRPC_CancelOrder(t *testing.T) {
	s, store := newTestRPCServer(t)
	store.SeedPortfolio("alice", "google", 10)

	resp := s.handleStockOrder(context.Background(), delivery(t, "alice",
		`{"stock_id":"google","is_buy":false,"order_type":"LIMIT","quantity":10,"price":5}`))
	if !resp.Success {
		t.Fatalf("sell failed: %+v", resp.Error)
	}
	txID := store.TransactionsByUser("alice")[0].ID

	resp = s.handleCancelOrder(context.Background(), delivery(t, "alice",
		`{"stock_tx_id":"`+txID+`"}`))
	if !resp.Success {
		t.Fatalf("cancel failed: %+v", resp.Error)
	}

	p, _ := store.Portfolio(context.Background(), "alice", "google")
	if p.QuantityOwned != 10 {
		t.Errorf("expected portfolio restored to 10, got %d", p.QuantityOwned)
	}
}

func TestRPC_CancelOrder_NotOwner(t *testing.T) {
	s, store := newTestRPCServer(t)
	store.SeedPortfolio("alice", "google", 10)

	resp := s.handleStockOrder(context.Background(), delivery(t, "alice",
		`{"stock_id":"google","is_buy":false,"order_type":"LIMIT","quantity":10,"price":5}`))
	if !resp.Success {
		t.Fatalf("sell failed: %+v", resp.Error)
	}
	txID := store.TransactionsByUser("alice")[0].ID

	resp = s.handleCancelOrder(context.Background(), delivery(t, "bob",
		`{"stock_tx_id":"`+txID+`"}`))
	if resp.Success {
		t.Fatal("expected failure for non-owner")
	}
	if resp.Error.Status != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.Error.Status)
	}
}

func TestRPC_GetPrices_Unauthenticated(t *testing.T) {
	s, store := newTestRPCServer(t)
	store.SeedStock("google", "Google", 135)

	resp := s.handleGetPrices(context.Background())
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	prices, ok := resp.Data.([]domain.StockPrice)
	if !ok {
		t.Fatalf("expected []domain.StockPrice, got %T", resp.Data)
	}
	if len(prices) != 1 || prices[0].CurrentPrice != 135 {
		t.Errorf("unexpected prices: %+v", prices)
	}
}
