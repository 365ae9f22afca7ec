package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis is the production cache backed by a Redis hash per entity type.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client}, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, name Name, key string, dest any) error {
	raw, err := r.client.HGet(ctx, string(name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (r *Redis) GetAll(ctx context.Context, name Name) (map[string]json.RawMessage, error) {
	res, err := r.client.HGetAll(ctx, string(name)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrMiss
	}
	out := make(map[string]json.RawMessage, len(res))
	for k, v := range res {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, name Name, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, string(name), key, raw).Err()
}

func (r *Redis) Update(ctx context.Context, name Name, key string, fields map[string]any) error {
	existing, err := r.client.HGet(ctx, string(name), key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	merged, err := merge(existing, fields)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, string(name), key, merged).Err()
}

func (r *Redis) Delete(ctx context.Context, name Name, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.HDel(ctx, string(name), keys...).Err()
}
