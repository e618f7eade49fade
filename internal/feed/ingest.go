package feed

import (
	"context"
	"fmt"
	"log"

	"marketcore/internal/metrics"
	"marketcore/internal/model"
)

// IngestConfig wires the stream client to the tick pipeline.
type IngestConfig struct {
	Client ClientConfig

	// Initial subscriptions, grouped by mode.
	SubscribeMode int
	Tokens        map[model.Segment][]int64
}

// Ingest owns the stream client and pushes decoded partial ticks into
// tickCh. Malformed frames and full channels drop the tick; the cache
// heals on the next frame for that token.
type Ingest struct {
	cfg    IngestConfig
	client *Client
	met    *metrics.Metrics
	health *metrics.HealthStatus
}

// NewIngest builds the ingest and its underlying client.
func NewIngest(cfg IngestConfig, met *metrics.Metrics, health *metrics.HealthStatus) (*Ingest, error) {
	client, err := NewClient(cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("feed ingest: %w", err)
	}
	return &Ingest{cfg: cfg, client: client, met: met, health: health}, nil
}

// Subscribe adds tokens on a live connection.
func (ing *Ingest) Subscribe(mode int, tokens map[model.Segment][]int64) error {
	return ing.client.Subscribe("marketcore", mode, GroupTokens(tokens))
}

// Unsubscribe drops tokens from the stream.
func (ing *Ingest) Unsubscribe(mode int, tokens map[model.Segment][]int64) error {
	return ing.client.Unsubscribe("marketcore", mode, GroupTokens(tokens))
}

// Start connects and streams ticks into tickCh until ctx is cancelled.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.PartialTick) error {
	ing.client.OnOpen = func() {
		log.Printf("[feed] connected, subscribing mode=%d segments=%d", ing.cfg.SubscribeMode, len(ing.cfg.Tokens))
		if ing.health != nil {
			ing.health.SetWSConnected(true)
		}
		if err := ing.client.Subscribe("marketcore", ing.cfg.SubscribeMode, GroupTokens(ing.cfg.Tokens)); err != nil {
			log.Printf("[feed] subscribe error: %v", err)
		}
	}

	ing.client.OnFrame = func(b []byte) {
		tick, err := decodeFrame(b)
		if err != nil {
			if ing.met != nil {
				ing.met.DroppedTicks.Inc()
			}
			log.Printf("[feed] decode error: %v", err)
			return
		}
		if ing.met != nil {
			ing.met.TicksTotal.Inc()
		}
		if ing.health != nil {
			ing.health.SetLastTickTime(tick.TickTS)
		}
		select {
		case tickCh <- tick:
		default:
			if ing.met != nil {
				ing.met.DroppedTicks.Inc()
			}
			log.Println("[feed] tick channel full, dropping tick")
		}
	}

	ing.client.OnClose = func() {
		log.Println("[feed] connection closed")
		if ing.health != nil {
			ing.health.SetWSConnected(false)
		}
	}

	ing.client.OnReconnect = func() {
		if ing.met != nil {
			ing.met.WSReconnects.Inc()
		}
	}

	if err := ing.client.Connect(); err != nil {
		return fmt.Errorf("feed ingest: connect: %w", err)
	}

	<-ctx.Done()
	ing.client.Close()
	return nil
}
