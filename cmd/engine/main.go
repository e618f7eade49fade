package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"marketcore/config"
	"marketcore/internal/atm"
	"marketcore/internal/bus"
	"marketcore/internal/feed"
	"marketcore/internal/greeks"
	"marketcore/internal/logger"
	"marketcore/internal/markethours"
	"marketcore/internal/metrics"
	"marketcore/internal/model"
	"marketcore/internal/pricecache"
	"marketcore/internal/repository"
	"marketcore/internal/ringbuf"
	redisstore "marketcore/internal/store/redis"
	sqlitestore "marketcore/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[engine] starting...")

	cfg := config.Load()
	slogger := logger.Init("engine", slog.LevelInfo)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSegments(cfg.ParseSegments())
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Load contract masters ----
	mgr := repository.NewManager(slogger)
	loadMasters(cfg, mgr, prom)
	health.SetMastersLoaded(true)

	// ---- Price cache ----
	cache := pricecache.New()

	// ---- Pipeline channels ----
	tickCh := make(chan model.PartialTick, 10000)
	snapCh := make(chan model.PriceSnapshot, 5000)

	// ---- SQLite journal (off hot path) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	health.SetSQLiteOK(true)
	log.Println("[engine] sqlite journal ready")

	greeksJournalCh := make(chan model.GreeksResult, 1000)
	go sqlWriter.Run(ctx, greeksJournalCh)

	// ---- Redis writer behind a circuit breaker ----
	var redisWriter *redisstore.Writer
	var bufWriter *redisstore.BufferedWriter
	redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
	} else {
		health.SetRedisConnected(true)
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			log.Printf("[engine] redis circuit %s -> %s", from, to)
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		bufWriter = redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
		bufWriter.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		log.Println("[engine] redis writer ready")
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Merge loop (HOT PATH): partial ticks -> merged snapshots ----
	// A single-producer ring decouples the merge from the fanout; the
	// merge goroutine never blocks on downstream consumers.
	ring := ringbuf.New(16384)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-tickCh:
				if !ok {
					return
				}
				start := time.Now()
				snap, merged := cache.Update(&tick)
				prom.MergeDur.Observe(time.Since(start).Seconds())
				if !merged {
					prom.DroppedTicks.Inc()
					continue
				}
				prom.SnapshotsOut.Inc()
				if !ring.Push(snap) {
					prom.RingBufOverflow.Inc()
				}
			}
		}
	}()

	// Ring drain: the single consumer feeding the fanout.
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			snap, ok := ring.Pop()
			if !ok {
				time.Sleep(200 * time.Microsecond)
				continue
			}
			select {
			case snapCh <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	// ---- Fan-out merged snapshots to subscribers ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	var redisSnapCh <-chan model.PriceSnapshot
	if bufWriter != nil {
		redisSnapCh = fanout.Subscribe()
	}
	atmSnapCh := fanout.Subscribe()

	go fanout.Run(ctx, snapCh)

	// Cache size gauges, sampled off the hot path.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for seg, n := range cache.Stats() {
					prom.CacheSize.WithLabelValues(seg.String()).Set(float64(n))
				}
			}
		}
	}()

	if bufWriter != nil && redisSnapCh != nil {
		// Micro-batch: drain whatever is already queued into one pipeline
		// so a burst costs one roundtrip instead of one per snapshot.
		go func() {
			const maxBatch = 64
			batch := make([]model.PriceSnapshot, 0, maxBatch)
			for snap := range redisSnapCh {
				batch = append(batch[:0], snap)
			drain:
				for len(batch) < maxBatch {
					select {
					case more, ok := <-redisSnapCh:
						if !ok {
							break drain
						}
						batch = append(batch, more)
					default:
						break drain
					}
				}
				start := time.Now()
				if len(batch) == 1 {
					bufWriter.WriteSnapshot(batch[0])
				} else {
					bufWriter.WriteSnapshotBatch(batch)
				}
				prom.RedisWriteDur.Observe(time.Since(start).Seconds())
			}
		}()
	}

	// ---- ATM watcher ----
	base := atm.BaseCash
	if strings.EqualFold(cfg.ATMBase, "future") {
		base = atm.BaseFuture
	}
	resolver := atm.NewResolver(mgr, cache, base)
	watcher := atm.NewWatcher(resolver, slogger, prom, atm.WatcherConfig{
		ThresholdMult:  cfg.ATMThresholdMult,
		BackupInterval: time.Duration(cfg.ATMBackupInterval) * time.Second,
	})

	// Track the live ingest so ATM transitions can subscribe the new
	// call/put tokens mid-session.
	var feedMu sync.Mutex
	var liveIngest *feed.Ingest

	atmOutCh := make(chan model.ATMInfo, 256)
	watcher.Subscribe(func(info model.ATMInfo) {
		select {
		case atmOutCh <- info:
		default:
			log.Printf("[engine] atm output channel full, dropping %s %s", info.Symbol, info.Expiry)
		}
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case info, ok := <-atmOutCh:
				if !ok {
					return
				}
				if bufWriter != nil {
					if err := bufWriter.WriteATM(info); err != nil {
						log.Printf("[engine] redis atm write: %v", err)
					}
				}
				if err := sqlWriter.WriteATM(info); err != nil {
					log.Printf("[engine] sqlite atm write: %v", err)
				}
				feedMu.Lock()
				ing := liveIngest
				feedMu.Unlock()
				if ing != nil {
					err := ing.Subscribe(cfg.SubscribeMode, map[model.Segment][]int64{
						info.Segment: {info.CallToken, info.PutToken},
					})
					if err != nil {
						log.Printf("[engine] atm pair subscribe: %v", err)
					}
				}
			}
		}
	}()

	watches := cfg.ParseWatches()
	type watchRef struct {
		seg    model.Segment
		symbol string
		expiry string
	}
	var watchRefs []watchRef
	for _, w := range watches {
		seg, err := model.ParseSegment(w[0])
		if err != nil {
			log.Printf("[engine] skipping ATM watch %v: %v", w, err)
			continue
		}
		if _, err := watcher.Watch(seg, w[1], w[2]); err != nil {
			log.Printf("[engine] watch %s %s %s: %v, skipping", w[0], w[1], w[2], err)
			continue
		}
		watchRefs = append(watchRefs, watchRef{seg: seg, symbol: w[1], expiry: w[2]})
	}
	go watcher.Run(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-atmSnapCh:
				if !ok {
					return
				}
				watcher.OnSnapshot(snap)
			}
		}
	}()

	// ---- Greeks service: recompute the watched ATM pairs every second ----
	dc := greeks.Calendar
	if strings.EqualFold(cfg.DayCount, "trading") {
		dc = greeks.TradingDays
	}
	engine := greeks.NewEngine(mgr, cache, greeks.Options{
		RiskFreeRate: cfg.RiskFreeRate,
		DayCount:     dc,
		Metrics:      prom,
	})

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, wr := range watchRefs {
					info, ok := watcher.Current(wr.seg, wr.symbol, wr.expiry)
					if !ok {
						continue
					}
					for _, tok := range []int64{info.CallToken, info.PutToken} {
						if tok <= 0 {
							continue
						}
						res, err := engine.Greeks(wr.seg, tok)
						if err != nil {
							continue
						}
						if bufWriter != nil {
							if err := bufWriter.WriteGreeks(res); err != nil {
								log.Printf("[engine] redis greeks write: %v", err)
							}
						}
						select {
						case greeksJournalCh <- res:
						default:
						}
					}
				}
			}
		}
	}()

	// ---- Feed lifecycle: fresh login each market open, disconnect at close ----
	tokens := subscriptionTokens(cfg)
	sessions := feed.NewSessionManager(feed.SessionConfig{
		LoginURL:   cfg.LoginURL,
		APIKey:     cfg.AngelAPIKey,
		ClientCode: cfg.AngelClientCode,
		Password:   cfg.AngelPassword,
		TOTPSecret: cfg.AngelTOTPSecret,
	})

	go func() {
		for {
			now := time.Now()
			if !markethours.IsMarketOpen(now) {
				next := markethours.NextOpen(now)
				wait := next.Sub(now)
				log.Printf("[engine] market closed. %s", markethours.StatusString(now))
				log.Printf("[engine] sleeping %v until next open %s",
					wait.Truncate(time.Second), next.In(markethours.IST).Format("Mon 15:04"))
				health.SetWSConnected(false)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}

			log.Println("[engine] market open, generating fresh session...")
			sess, err := sessions.Login(ctx)
			if err != nil {
				log.Printf("[engine] login failed: %v, retrying in 30s", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(30 * time.Second):
				}
				continue
			}

			closeTime := markethours.TodayClose(time.Now())
			wsCtx, wsCancel := context.WithDeadline(ctx, closeTime)

			ingest, err := feed.NewIngest(feed.IngestConfig{
				Client: feed.ClientConfig{
					URL:        cfg.FeedURL,
					AuthToken:  sess.AuthToken,
					APIKey:     cfg.AngelAPIKey,
					ClientCode: cfg.AngelClientCode,
					FeedToken:  sess.FeedToken,
				},
				SubscribeMode: cfg.SubscribeMode,
				Tokens:        tokens,
			}, prom, health)
			if err != nil {
				log.Printf("[engine] feed init failed: %v, retrying in 30s", err)
				wsCancel()
				time.Sleep(30 * time.Second)
				continue
			}

			feedMu.Lock()
			liveIngest = ingest
			feedMu.Unlock()

			log.Printf("[engine] feed connected, will disconnect at %s",
				closeTime.In(markethours.IST).Format("15:04:05"))

			if err := ingest.Start(wsCtx, tickCh); err != nil {
				log.Printf("[engine] feed session ended: %v", err)
			}
			wsCancel()

			feedMu.Lock()
			liveIngest = nil
			feedMu.Unlock()
			health.SetWSConnected(false)
			log.Println("[engine] feed disconnected, market close")

			if ctx.Err() != nil {
				return
			}
		}
	}()

	log.Printf("[engine] pipeline ready: feed -> merge -> fanout -> redis/sqlite, %d ATM watches", len(watchRefs))
	log.Printf("[engine] %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[engine] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[engine] shutdown complete.")
}

// loadMasters fills the manager from processed snapshots when present,
// falling back to raw master files, and finalizes all segments.
func loadMasters(cfg *config.Config, mgr *repository.Manager, prom *metrics.Metrics) {
	start := time.Now()

	sum, found, err := mgr.LoadProcessedDir(cfg.ProcessedDir)
	if err != nil {
		log.Printf("[engine] processed snapshot load failed: %v, falling back to raw masters", err)
		found = false
	}
	if found {
		log.Printf("[engine] masters loaded from processed snapshots: %s", sum.String())
	} else {
		sum = loadRawMasters(cfg, mgr)
		log.Printf("[engine] masters loaded from raw files: %s", sum.String())
	}

	mgr.ResolveIndexUnderlyings(nil)
	mgr.FinalizeAll()
	prom.MasterLoadDur.Observe(time.Since(start).Seconds())

	for _, name := range cfg.ParseSegments() {
		seg, err := model.ParseSegment(name)
		if err != nil {
			continue
		}
		n := mgr.Segment(seg).Count()
		prom.ContractsLoaded.WithLabelValues(seg.String()).Set(float64(n))
		log.Printf("[engine] %s: %d contracts", seg, n)
	}

	if !found {
		if err := mgr.SaveProcessedDir(cfg.ProcessedDir); err != nil {
			log.Printf("[engine] processed snapshot save failed: %v", err)
		} else {
			log.Printf("[engine] processed snapshots written to %s", cfg.ProcessedDir)
		}
	}
}

// loadRawMasters reads one raw master file per configured segment from
// MastersDir, named after the segment (nsecm.txt, nsefo.txt, ...).
func loadRawMasters(cfg *config.Config, mgr *repository.Manager) repository.LoadSummary {
	var sum repository.LoadSummary
	for _, name := range cfg.ParseSegments() {
		seg, err := model.ParseSegment(name)
		if err != nil {
			log.Printf("[engine] unknown segment %q in SEGMENTS, skipping", name)
			continue
		}
		path := filepath.Join(cfg.MastersDir, strings.ToLower(seg.String())+".txt")
		f, err := os.Open(path)
		if err != nil {
			log.Printf("[engine] master file %s: %v, skipping segment", path, err)
			continue
		}
		s := mgr.LoadMasterFile(seg, f)
		f.Close()
		sum.Merge(s)
	}
	return sum
}

// subscriptionTokens parses the configured token list into segment groups.
func subscriptionTokens(cfg *config.Config) map[model.Segment][]int64 {
	out := make(map[model.Segment][]int64)
	for name, toks := range cfg.ParseTokens() {
		seg, err := model.ParseSegment(name)
		if err != nil {
			log.Printf("[engine] unknown segment %q in SUBSCRIBE_TOKENS, skipping", name)
			continue
		}
		out[seg] = append(out[seg], toks...)
	}
	return out
}
