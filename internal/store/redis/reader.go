package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader fetches the latest published state back out of Redis. Used by
// inspection tooling; the engine itself only writes.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Reader{client: client}, nil
}

// LatestQuote reads the last published snapshot for a token.
func (r *Reader) LatestQuote(ctx context.Context, seg model.Segment, token int64) (model.PriceSnapshot, error) {
	raw, err := r.client.HGet(ctx, "quote:latest:"+seg.String(), fmt.Sprintf("%d", token)).Result()
	if err == goredis.Nil {
		return model.PriceSnapshot{}, fmt.Errorf("no quote for %s:%d", seg, token)
	}
	if err != nil {
		return model.PriceSnapshot{}, err
	}
	var snap model.PriceSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("decode quote %s:%d: %w", seg, token, err)
	}
	return snap, nil
}

// LatestATM reads the last published ATM state for a symbol and expiry.
func (r *Reader) LatestATM(ctx context.Context, symbol, expiry string) (model.ATMInfo, error) {
	raw, err := r.client.Get(ctx, "atm:latest:"+symbol+":"+expiry).Result()
	if err == goredis.Nil {
		return model.ATMInfo{}, fmt.Errorf("no atm state for %s %s", symbol, expiry)
	}
	if err != nil {
		return model.ATMInfo{}, err
	}
	var info model.ATMInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return model.ATMInfo{}, fmt.Errorf("decode atm %s %s: %w", symbol, expiry, err)
	}
	return info, nil
}

// LatestGreeks reads the last published greeks for a token.
func (r *Reader) LatestGreeks(ctx context.Context, seg model.Segment, token int64) (model.GreeksResult, error) {
	raw, err := r.client.Get(ctx, fmt.Sprintf("greeks:latest:%s:%d", seg, token)).Result()
	if err == goredis.Nil {
		return model.GreeksResult{}, fmt.Errorf("no greeks for %s:%d", seg, token)
	}
	if err != nil {
		return model.GreeksResult{}, err
	}
	var res model.GreeksResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return model.GreeksResult{}, fmt.Errorf("decode greeks %s:%d: %w", seg, token, err)
	}
	return res, nil
}

// QuoteCount returns the number of stored snapshots for a segment.
func (r *Reader) QuoteCount(ctx context.Context, seg model.Segment) (int64, error) {
	return r.client.HLen(ctx, "quote:latest:"+seg.String()).Result()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
