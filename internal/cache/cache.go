// Package cache provides the read-through entity cache consulted before
// the ledger on read paths. One hash per entity type, one field per
// owner, JSON document values. The cache is a non-authoritative
// accelerator: every miss falls back to the ledger, and writes happen
// only after the durable commit.
package cache

import (
	"context"
	"encoding/json"
	"errors"
)

// Name identifies an entity hash. The values match the key scheme the
// transaction service reads, so both services share cache entries.
type Name string

const (
	Stocks     Name = "stocks"
	Portfolios Name = "stock_portfolio"
	StockTx    Name = "stock_tx"
	Wallets    Name = "wallets"
	WalletTx   Name = "wallet_tx"
)

// ErrMiss is returned by Get when the entry is absent.
var ErrMiss = errors.New("cache miss")

// Cache is the entity cache contract. Update has merge semantics: the
// given fields are merged into the existing JSON object, or become the
// object when none exists.
type Cache interface {
	Get(ctx context.Context, name Name, key string, dest any) error
	GetAll(ctx context.Context, name Name) (map[string]json.RawMessage, error)
	Set(ctx context.Context, name Name, key string, value any) error
	Update(ctx context.Context, name Name, key string, fields map[string]any) error
	Delete(ctx context.Context, name Name, keys ...string) error
}

// merge overlays fields onto the JSON object in existing. A nil or
// invalid existing document is replaced wholesale.
func merge(existing []byte, fields map[string]any) ([]byte, error) {
	doc := make(map[string]any)
	if len(existing) > 0 {
		// Ignore unmarshal errors: a corrupt entry is overwritten.
		_ = json.Unmarshal(existing, &doc)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return json.Marshal(doc)
}
