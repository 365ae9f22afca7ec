package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daytrader/matching-engine/internal/domain"
)

// Schema is the relational layout of the ledger. stock_transactions is
// self-referencing through parent_stock_tx_id and links to the wallet
// transaction that settled it.
const Schema = `
CREATE TABLE IF NOT EXISTS stocks (
	stock_id   TEXT PRIMARY KEY,
	stock_name TEXT NOT NULL UNIQUE,
	price      BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS wallets (
	user_id TEXT PRIMARY KEY,
	balance BIGINT NOT NULL CHECK (balance >= 0)
);

CREATE TABLE IF NOT EXISTS stock_portfolios (
	user_id        TEXT NOT NULL,
	stock_id       TEXT NOT NULL REFERENCES stocks (stock_id),
	quantity_owned BIGINT NOT NULL CHECK (quantity_owned >= 0),
	PRIMARY KEY (user_id, stock_id)
);

CREATE TABLE IF NOT EXISTS wallet_transactions (
	wallet_tx_id TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	stock_tx_id  TEXT NOT NULL,
	is_debit     BOOLEAN NOT NULL,
	amount       BIGINT NOT NULL,
	time_stamp   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_transactions (
	stock_tx_id        TEXT PRIMARY KEY,
	stock_id           TEXT NOT NULL REFERENCES stocks (stock_id),
	is_buy             BOOLEAN NOT NULL,
	order_type         TEXT NOT NULL,
	stock_price        BIGINT NOT NULL,
	quantity           BIGINT NOT NULL,
	order_status       TEXT NOT NULL,
	parent_stock_tx_id TEXT REFERENCES stock_transactions (stock_tx_id),
	wallet_tx_id       TEXT REFERENCES wallet_transactions (wallet_tx_id),
	user_id            TEXT NOT NULL,
	time_stamp         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stock_transactions_user ON stock_transactions (user_id);
CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user ON wallet_transactions (user_id);
`

// PostgresStore is the production ledger backed by Postgres through a
// pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// WithinTx runs fn inside one database transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(pgtx pgx.Tx) error {
		return fn(&pgTx{tx: pgtx})
	})
}

// Wallet loads a user's wallet.
func (s *PostgresStore) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	w := &domain.Wallet{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1`, userID,
	).Scan(&w.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Portfolio loads a user's position, returning a zero-quantity entry
// when none exists.
func (s *PostgresStore) Portfolio(ctx context.Context, userID, stockID string) (*domain.PortfolioEntry, error) {
	p := &domain.PortfolioEntry{UserID: userID, StockID: stockID}
	err := s.pool.QueryRow(ctx,
		`SELECT quantity_owned FROM stock_portfolios WHERE user_id = $1 AND stock_id = $2`,
		userID, stockID,
	).Scan(&p.QuantityOwned)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// StockTransaction loads a stock transaction record.
func (s *PostgresStore) StockTransaction(ctx context.Context, txID string) (*domain.StockTransaction, error) {
	return scanStockTx(s.pool.QueryRow(ctx, selectStockTx+` WHERE stock_tx_id = $1`, txID))
}

// Stocks returns every registered stock ordered by id.
func (s *PostgresStore) Stocks(ctx context.Context) ([]domain.Stock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stock_id, stock_name, price FROM stocks ORDER BY stock_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Stock
	for rows.Next() {
		var st domain.Stock
		if err := rows.Scan(&st.ID, &st.Name, &st.Price); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

const selectStockTx = `SELECT stock_tx_id, stock_id, is_buy, order_type, stock_price,
	quantity, order_status, COALESCE(parent_stock_tx_id, ''), COALESCE(wallet_tx_id, ''),
	user_id, time_stamp FROM stock_transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockTx(row rowScanner) (*domain.StockTransaction, error) {
	stx := &domain.StockTransaction{}
	err := row.Scan(&stx.ID, &stx.StockID, &stx.IsBuy, &stx.OrderType, &stx.Price,
		&stx.Quantity, &stx.Status, &stx.ParentTxID, &stx.WalletTxID,
		&stx.UserID, &stx.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTxNotFound
	}
	if err != nil {
		return nil, err
	}
	return stx, nil
}

// pgTx adapts a pgx transaction to the ledger Tx contract. Balance and
// quantity reads lock their rows so concurrent settlements serialize on
// the wallets and portfolios they share.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) WalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error) {
	w := &domain.Wallet{UserID: userID}
	err := t.tx.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&w.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (t *pgTx) AdjustWallet(ctx context.Context, userID string, delta int64) error {
	w, err := t.WalletForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	if w.Balance+delta < 0 {
		return domain.ErrInsufficientFunds
	}
	_, err = t.tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $2 WHERE user_id = $1`, userID, delta)
	return err
}

func (t *pgTx) AdjustPortfolio(ctx context.Context, userID, stockID string, delta int64) error {
	var quantity int64
	err := t.tx.QueryRow(ctx,
		`SELECT quantity_owned FROM stock_portfolios
		 WHERE user_id = $1 AND stock_id = $2 FOR UPDATE`,
		userID, stockID,
	).Scan(&quantity)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if delta < 0 {
			return domain.ErrInsufficientStock
		}
		_, err = t.tx.Exec(ctx,
			`INSERT INTO stock_portfolios (user_id, stock_id, quantity_owned)
			 VALUES ($1, $2, $3)`,
			userID, stockID, delta)
		return err
	case err != nil:
		return err
	}
	if quantity+delta < 0 {
		return domain.ErrInsufficientStock
	}
	_, err = t.tx.Exec(ctx,
		`UPDATE stock_portfolios SET quantity_owned = quantity_owned + $3
		 WHERE user_id = $1 AND stock_id = $2`,
		userID, stockID, delta)
	return err
}

func (t *pgTx) CreateStockTransaction(ctx context.Context, stx *domain.StockTransaction) error {
	if stx.ID == "" {
		stx.ID = uuid.New().String()
	}
	if stx.Timestamp.IsZero() {
		stx.Timestamp = time.Now()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stock_transactions
		 (stock_tx_id, stock_id, is_buy, order_type, stock_price, quantity,
		  order_status, parent_stock_tx_id, wallet_tx_id, user_id, time_stamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)`,
		stx.ID, stx.StockID, stx.IsBuy, stx.OrderType, stx.Price, stx.Quantity,
		stx.Status, stx.ParentTxID, stx.WalletTxID, stx.UserID, stx.Timestamp)
	return err
}

func (t *pgTx) StockTransactionForUpdate(ctx context.Context, txID string) (*domain.StockTransaction, error) {
	return scanStockTx(t.tx.QueryRow(ctx,
		selectStockTx+` WHERE stock_tx_id = $1 FOR UPDATE`, txID))
}

func (t *pgTx) SetStockTransactionStatus(ctx context.Context, txID string, status domain.OrderStatus, quantity int64) error {
	if quantity >= 0 {
		_, err := t.tx.Exec(ctx,
			`UPDATE stock_transactions SET order_status = $2, quantity = $3 WHERE stock_tx_id = $1`,
			txID, status, quantity)
		return err
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE stock_transactions SET order_status = $2 WHERE stock_tx_id = $1`,
		txID, status)
	return err
}

func (t *pgTx) LinkWalletTransaction(ctx context.Context, stockTxID, walletTxID string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE stock_transactions SET wallet_tx_id = $2 WHERE stock_tx_id = $1`,
		stockTxID, walletTxID)
	return err
}

func (t *pgTx) CreateWalletTransaction(ctx context.Context, wtx *domain.WalletTransaction) error {
	if wtx.ID == "" {
		wtx.ID = uuid.New().String()
	}
	if wtx.Timestamp.IsZero() {
		wtx.Timestamp = time.Now()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallet_transactions
		 (wallet_tx_id, user_id, stock_tx_id, is_debit, amount, time_stamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		wtx.ID, wtx.UserID, wtx.StockTxID, wtx.IsDebit, wtx.Amount, wtx.Timestamp)
	return err
}
