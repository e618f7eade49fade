package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"
	"unsafe"

	"marketcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute

	// Greeks go stale fast; keep the latest key on a short leash.
	greeksTTL = 1 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes merged snapshots, ATM transitions and greeks to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
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

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// writeSnapshot keeps the latest quote per token in a per-segment hash
// and publishes the update for live subscribers.
func (w *Writer) writeSnapshot(ctx context.Context, snap model.PriceSnapshot) {
	jsonBytes := snap.JSON()
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	seg := snap.Segment.String()
	tok := strconv.FormatInt(snap.Token, 10)
	hashKey := "quote:latest:" + seg
	pubsubCh := "pub:quote:" + seg + ":" + tok

	pipe := w.client.Pipeline()
	pipe.HSet(ctx, hashKey, tok, jsonData)
	pipe.Publish(ctx, pubsubCh, jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] snapshot pipeline error for %s:%s: %v", seg, tok, err)
	}
}

// WriteSnapshotBatch writes multiple snapshots in a single pipeline.
// Batches HSET + PUBLISH for all snapshots into one network roundtrip.
func (w *Writer) WriteSnapshotBatch(ctx context.Context, snaps []model.PriceSnapshot) {
	if len(snaps) == 0 {
		return
	}

	pipe := w.client.Pipeline()
	for i := range snaps {
		snap := &snaps[i]
		jsonBytes := snap.JSON()
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
		seg := snap.Segment.String()
		tok := strconv.FormatInt(snap.Token, 10)
		pipe.HSet(ctx, "quote:latest:"+seg, tok, jsonData)
		pipe.Publish(ctx, "pub:quote:"+seg+":"+tok, jsonData)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] snapshot batch pipeline error (%d snaps): %v", len(snaps), err)
	}
}

// WriteATM records an ATM transition and notifies subscribers.
func (w *Writer) WriteATM(ctx context.Context, info model.ATMInfo) error {
	jsonData := string(info.JSON())
	latestKey := "atm:latest:" + info.Symbol + ":" + info.Expiry
	pubsubCh := "pub:atm:" + info.Symbol + ":" + info.Expiry

	pipe := w.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] atm pipeline error for %s %s: %v", info.Symbol, info.Expiry, err)
	}
	return err
}

// WriteGreeks publishes a greeks result with a short TTL on the latest key.
func (w *Writer) WriteGreeks(ctx context.Context, res model.GreeksResult) error {
	jsonBytes := res.JSON()
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	seg := res.Segment.String()
	tok := strconv.FormatInt(res.Token, 10)
	latestKey := "greeks:latest:" + seg + ":" + tok
	pubsubCh := "pub:greeks:" + seg + ":" + tok

	pipe := w.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, greeksTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] greeks pipeline error for %s:%s: %v", seg, tok, err)
	}
	return err
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
