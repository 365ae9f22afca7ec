package transport

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/daytrader/matching-engine/internal/auth"
	"github.com/daytrader/matching-engine/internal/domain"
	"github.com/daytrader/matching-engine/internal/service"
)

// RPC operation names, carried in the delivery's content-type.
const (
	opStockOrder  = "STOCK_ORDER"
	opCancelOrder = "CANCEL_ORDER"
	opGetPrices   = "GET_PRICES"
)

// userDataHeader is the delivery header carrying the auth service's
// user-data token.
const userDataHeader = "x_user_data"

// RPCServer consumes order requests from the engine queue and replies on
// each delivery's reply-to queue with the same correlation id.
// Deliveries are handled sequentially: the matcher's per-stock locks are
// the real serialization point, and a single channel must not publish
// concurrently.
type RPCServer struct {
	url    string
	queue  string
	secret []byte
	orders *service.OrderService
	stocks *service.StockService
	log    *zap.Logger
}

// NewRPCServer creates an RPCServer. Dialing happens in Serve.
func NewRPCServer(url, queue string, secret []byte, orders *service.OrderService, stocks *service.StockService, log *zap.Logger) *RPCServer {
	return &RPCServer{
		url:    url,
		queue:  queue,
		secret: secret,
		orders: orders,
		stocks: stocks,
		log:    log,
	}
}

// Serve connects, declares the engine queue, and consumes until ctx is
// cancelled or the connection drops.
func (s *RPCServer) Serve(ctx context.Context) error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(s.queue, false, true, false, false, nil)
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	s.log.Info("rpc consumer started", zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			s.handle(ctx, ch, d)
		}
	}
}

func (s *RPCServer) handle(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	var resp Response

	switch d.ContentType {
	case opStockOrder:
		resp = s.handleStockOrder(ctx, d)
	case opCancelOrder:
		resp = s.handleCancelOrder(ctx, d)
	case opGetPrices:
		resp = s.handleGetPrices(ctx)
	default:
		resp = failure("unknown_operation", 400, "unknown operation: "+d.ContentType)
	}

	if d.ReplyTo != "" {
		body, err := json.Marshal(resp)
		if err == nil {
			err = ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
				ContentType:   "application/json",
				CorrelationId: d.CorrelationId,
				Body:          body,
			})
		}
		if err != nil {
			s.log.Error("rpc reply failed",
				zap.String("reply_to", d.ReplyTo),
				zap.String("correlation_id", d.CorrelationId),
				zap.Error(err),
			)
		}
	}

	if err := d.Ack(false); err != nil {
		s.log.Error("rpc ack failed", zap.Error(err))
	}
}

func (s *RPCServer) handleStockOrder(ctx context.Context, d amqp.Delivery) Response {
	claims, err := s.userFrom(d)
	if err != nil {
		return errorResponse(err)
	}

	var order domain.StockOrder
	if err := json.Unmarshal(d.Body, &order); err != nil {
		return errorResponse(&domain.ValidationError{Message: "request body must be a valid stock order"})
	}

	if err := s.orders.PlaceStockOrder(ctx, claims.ID, order); err != nil {
		s.logRejection(opStockOrder, claims.ID, err)
		return errorResponse(err)
	}
	return successResponse(nil)
}

func (s *RPCServer) handleCancelOrder(ctx context.Context, d amqp.Delivery) Response {
	claims, err := s.userFrom(d)
	if err != nil {
		return errorResponse(err)
	}

	var req struct {
		StockTxID string `json:"stock_tx_id"`
	}
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return errorResponse(&domain.ValidationError{Message: "request body must be a valid cancellation"})
	}

	if err := s.orders.CancelStockTransaction(ctx, claims.ID, req.StockTxID); err != nil {
		s.logRejection(opCancelOrder, claims.ID, err)
		return errorResponse(err)
	}
	return successResponse(nil)
}

func (s *RPCServer) handleGetPrices(ctx context.Context) Response {
	prices, err := s.stocks.GetStockPrices(ctx)
	if err != nil {
		s.log.Error("get prices failed", zap.Error(err))
		return errorResponse(err)
	}
	return successResponse(prices)
}

func (s *RPCServer) userFrom(d amqp.Delivery) (*auth.Claims, error) {
	token, _ := d.Headers[userDataHeader].(string)
	return auth.ParseUserData(s.secret, token)
}

func (s *RPCServer) logRejection(op, userID string, err error) {
	s.log.Info("request rejected",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.String("reason", err.Error()),
	)
}
