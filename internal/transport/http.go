package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/daytrader/matching-engine/internal/auth"
	"github.com/daytrader/matching-engine/internal/domain"
	"github.com/daytrader/matching-engine/internal/service"
)

type ctxKey int

const ctxKeyUserID ctxKey = 0

// NewRouter creates a chi router exposing the engine's operations over
// HTTP, mirroring the RPC surface. Order operations require a valid
// X-User-Data token; the price listing does not.
func NewRouter(orders *service.OrderService, stocks *service.StockService, secret []byte, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogging(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/getStockPrices", func(w http.ResponseWriter, r *http.Request) {
		prices, err := stocks.GetStockPrices(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse(prices))
	})

	r.Group(func(r chi.Router) {
		r.Use(userAuth(secret))

		r.Post("/placeStockOrder", func(w http.ResponseWriter, r *http.Request) {
			var order domain.StockOrder
			if err := parseJSON(r, &order); err != nil {
				writeError(w, err)
				return
			}
			if err := orders.PlaceStockOrder(r.Context(), userID(r.Context()), order); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, successResponse(nil))
		})

		r.Post("/cancelStockTransaction", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				StockTxID string `json:"stock_tx_id"`
			}
			if err := parseJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
			if err := orders.CancelStockTransaction(r.Context(), userID(r.Context()), req.StockTxID); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, successResponse(nil))
		})
	})

	return r
}

// userAuth validates the X-User-Data token and stores the caller's user
// id on the request context.
func userAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := auth.ParseUserData(secret, r.Header.Get("X-User-Data"))
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

// requestLogging logs each request's method, path, status, and duration.
func requestLogging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func parseJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Message: "request body must be valid JSON"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse(err)
	writeJSON(w, resp.Error.Status, resp)
}
