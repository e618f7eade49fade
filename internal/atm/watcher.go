package atm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"marketcore/internal/metrics"
	"marketcore/internal/model"
)

const (
	// DefaultThresholdMult scales the strike step into the drift
	// threshold. Half a step means the ATM strike may have moved.
	DefaultThresholdMult = 0.5

	// DefaultBackupInterval catches drift during quiet tape when no
	// tick crosses the threshold.
	DefaultBackupInterval = 60 * time.Second
)

// Subscriber receives ATM updates. Called from watcher goroutines;
// implementations must not block.
type Subscriber func(model.ATMInfo)

// WatcherConfig tunes recalculation behavior.
type WatcherConfig struct {
	ThresholdMult  float64
	BackupInterval time.Duration
}

type watch struct {
	seg    model.Segment
	symbol string
	expiry string

	baseSeg   model.Segment
	baseToken int64

	mu       sync.Mutex
	last     model.ATMInfo
	hasLast  bool
	inFlight atomic.Bool
}

// Watcher keeps ATM strikes current for a set of watched symbol/expiry
// pairs, driven by base price ticks plus a backup timer.
type Watcher struct {
	res *Resolver
	log *slog.Logger
	met *metrics.Metrics
	cfg WatcherConfig
	now func() time.Time

	mu      sync.RWMutex
	watches map[string]*watch
	byBase  map[string][]*watch
	subs    []Subscriber
}

// NewWatcher builds a Watcher over a Resolver. Zero config fields take
// defaults.
func NewWatcher(res *Resolver, log *slog.Logger, met *metrics.Metrics, cfg WatcherConfig) *Watcher {
	if cfg.ThresholdMult <= 0 {
		cfg.ThresholdMult = DefaultThresholdMult
	}
	if cfg.BackupInterval <= 0 {
		cfg.BackupInterval = DefaultBackupInterval
	}
	return &Watcher{
		res:     res,
		log:     log,
		met:     met,
		cfg:     cfg,
		now:     time.Now,
		watches: make(map[string]*watch),
		byBase:  make(map[string][]*watch),
	}
}

// Subscribe registers a callback for ATM strike changes.
func (w *Watcher) Subscribe(fn Subscriber) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

func watchKey(seg model.Segment, symbol, expiry string) string {
	return fmt.Sprintf("%d|%s|%s", seg, symbol, expiry)
}

func baseKey(seg model.Segment, token int64) string {
	return fmt.Sprintf("%d:%d", seg, token)
}

// Watch starts tracking a symbol/expiry and performs the initial
// resolve. The base token is pinned at watch time so tick routing is a
// map lookup.
func (w *Watcher) Watch(seg model.Segment, symbol, expiry string) (model.ATMInfo, error) {
	key := watchKey(seg, symbol, expiry)

	w.mu.RLock()
	_, exists := w.watches[key]
	w.mu.RUnlock()
	if exists {
		return model.ATMInfo{}, fmt.Errorf("atm: already watching %s %s", symbol, expiry)
	}

	baseSeg, baseToken, err := w.baseTokenFor(seg, symbol, expiry)
	if err != nil {
		return model.ATMInfo{}, err
	}

	wa := &watch{seg: seg, symbol: symbol, expiry: expiry, baseSeg: baseSeg, baseToken: baseToken}
	w.mu.Lock()
	w.watches[key] = wa
	bk := baseKey(baseSeg, baseToken)
	w.byBase[bk] = append(w.byBase[bk], wa)
	w.mu.Unlock()

	info, err := w.recalc(wa, "initial")
	if err != nil {
		// Watch stays registered; the backup timer retries once
		// quotes arrive.
		w.log.Warn("atm initial resolve failed", "symbol", symbol, "expiry", expiry, "err", err)
		return model.ATMInfo{}, nil
	}
	return info, nil
}

func (w *Watcher) baseTokenFor(seg model.Segment, symbol, expiry string) (model.Segment, int64, error) {
	repo := w.res.mgr.Segment(seg)
	if repo == nil {
		return 0, 0, fmt.Errorf("atm: no repository for %s", seg)
	}
	if w.res.source == BaseFuture {
		tok, err := repo.FutureTokenFor(symbol, expiry)
		if err != nil {
			return 0, 0, err
		}
		return seg, tok, nil
	}
	asset, ok := repo.AssetToken(symbol)
	if !ok || asset <= 0 {
		return 0, 0, fmt.Errorf("atm: no underlying token for %s", symbol)
	}
	cashSeg := seg
	switch seg {
	case model.NSEFO:
		cashSeg = model.NSECM
	case model.BSEFO:
		cashSeg = model.BSECM
	}
	return cashSeg, asset, nil
}

// OnSnapshot routes a merged price snapshot to any watch keyed on that
// token and triggers a recalc when the base drifted past the threshold.
func (w *Watcher) OnSnapshot(snap model.PriceSnapshot) {
	if !snap.Has(model.FieldLTP) {
		return
	}
	w.mu.RLock()
	list := w.byBase[baseKey(snap.Segment, snap.Token)]
	w.mu.RUnlock()

	for _, wa := range list {
		wa.mu.Lock()
		trigger := !wa.hasLast
		if wa.hasLast {
			threshold := w.cfg.ThresholdMult * wa.last.StrikeStep
			trigger = math.Abs(snap.LTP-wa.last.SpotPrice) >= threshold
		}
		wa.mu.Unlock()
		if !trigger {
			continue
		}
		// Skip, never queue: a recalc already running will read a
		// fresh base price anyway.
		if !wa.inFlight.CompareAndSwap(false, true) {
			if w.met != nil {
				w.met.ATMSkipped.Inc()
			}
			continue
		}
		go func(wa *watch) {
			defer wa.inFlight.Store(false)
			if _, err := w.recalc(wa, "drift"); err != nil {
				w.log.Warn("atm recalc failed", "symbol", wa.symbol, "expiry", wa.expiry, "err", err)
			}
		}(wa)
	}
}

// recalc resolves and publishes if the strike changed.
func (w *Watcher) recalc(wa *watch, reason string) (model.ATMInfo, error) {
	start := w.now()
	info, err := w.res.Resolve(wa.seg, wa.symbol, wa.expiry)
	if err != nil {
		return model.ATMInfo{}, err
	}
	info.ComputedAt = w.now()
	if w.met != nil {
		w.met.ATMComputeDur.Observe(w.now().Sub(start).Seconds())
		w.met.ATMRecalcs.WithLabelValues(wa.symbol).Inc()
	}

	wa.mu.Lock()
	changed := !wa.hasLast || info.ATMStrike != wa.last.ATMStrike
	wa.last = info
	wa.hasLast = true
	wa.mu.Unlock()

	if changed {
		w.log.Info("atm strike",
			"symbol", wa.symbol, "expiry", wa.expiry, "reason", reason,
			"spot", info.SpotPrice, "strike", info.ATMStrike,
			"call", info.CallToken, "put", info.PutToken)
		w.notify(info)
	}
	return info, nil
}

func (w *Watcher) notify(info model.ATMInfo) {
	w.mu.RLock()
	subs := w.subs
	w.mu.RUnlock()
	for _, fn := range subs {
		fn(info)
	}
}

// Current returns the last computed ATM info for a watch.
func (w *Watcher) Current(seg model.Segment, symbol, expiry string) (model.ATMInfo, bool) {
	w.mu.RLock()
	wa, ok := w.watches[watchKey(seg, symbol, expiry)]
	w.mu.RUnlock()
	if !ok {
		return model.ATMInfo{}, false
	}
	wa.mu.Lock()
	defer wa.mu.Unlock()
	if !wa.hasLast {
		return model.ATMInfo{}, false
	}
	return wa.last, true
}

// Run drives the backup timer until ctx is cancelled. Ticks that find a
// recalc already in flight are skipped.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.BackupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			all := make([]*watch, 0, len(w.watches))
			for _, wa := range w.watches {
				all = append(all, wa)
			}
			w.mu.RUnlock()
			for _, wa := range all {
				if !wa.inFlight.CompareAndSwap(false, true) {
					continue
				}
				if _, err := w.recalc(wa, "timer"); err != nil {
					w.log.Debug("atm timer recalc failed", "symbol", wa.symbol, "err", err)
				}
				wa.inFlight.Store(false)
			}
		}
	}
}
