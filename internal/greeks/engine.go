package greeks

import (
	"fmt"
	"sync"
	"time"

	"marketcore/internal/metrics"
	"marketcore/internal/model"
	"marketcore/internal/pricecache"
	"marketcore/internal/repository"
)

// DefaultRiskFreeRate is the fallback when none is configured, roughly
// the 91-day T-bill yield.
const DefaultRiskFreeRate = 0.065

// resultTTL bounds how long a computed result is reused when the
// underlying inputs have not moved.
const resultTTL = 5 * time.Second

const engineShards = 16

// Options configures an Engine.
type Options struct {
	RiskFreeRate float64
	DayCount     DayCount
	Metrics      *metrics.Metrics
	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

type cachedResult struct {
	res model.GreeksResult
}

type engineShard struct {
	mu      sync.RWMutex
	results map[string]*cachedResult
}

// Engine computes greeks and implied volatility on demand, resolving
// the spot from the contract's underlying via the repository and the
// live price cache.
type Engine struct {
	mgr    *repository.Manager
	prices *pricecache.Cache
	rate   float64
	dc     DayCount
	met    *metrics.Metrics
	now    func() time.Time
	shards [engineShards]*engineShard
}

// NewEngine wires an Engine over the loaded contract repositories and
// the price cache.
func NewEngine(mgr *repository.Manager, prices *pricecache.Cache, opts Options) *Engine {
	if opts.RiskFreeRate <= 0 {
		opts.RiskFreeRate = DefaultRiskFreeRate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{mgr: mgr, prices: prices, rate: opts.RiskFreeRate, dc: opts.DayCount, met: opts.Metrics, now: opts.Now}
	for i := range e.shards {
		e.shards[i] = &engineShard{results: make(map[string]*cachedResult)}
	}
	return e
}

func (e *Engine) shard(token int64) *engineShard {
	return e.shards[uint64(token)%engineShards]
}

func cacheKey(seg model.Segment, token int64) string {
	return fmt.Sprintf("%d:%d", seg, token)
}

// Greeks returns the full greeks set for an option contract. Results
// are reused for a short window when neither the option quote nor the
// underlying spot has moved.
func (e *Engine) Greeks(seg model.Segment, token int64) (model.GreeksResult, error) {
	rec, ok := e.mgr.Lookup(seg, token)
	if !ok {
		return model.GreeksResult{}, fmt.Errorf("greeks: token %d not found in %s", token, seg)
	}
	if !rec.IsOption() {
		return model.GreeksResult{}, fmt.Errorf("greeks: token %d in %s is not an option", token, seg)
	}
	if rec.AssetToken <= 0 {
		return model.GreeksResult{}, repository.ErrUnresolvedUnderlying
	}

	marketPrice, ok := e.prices.LTP(seg, token)
	if !ok {
		return model.GreeksResult{}, fmt.Errorf("greeks: no quote for token %d in %s", token, seg)
	}
	spot, ok := e.spotPrice(seg, rec.AssetToken)
	if !ok {
		return model.GreeksResult{}, fmt.Errorf("greeks: no spot for underlying %d of token %d", rec.AssetToken, token)
	}

	now := e.now()
	key := cacheKey(seg, token)
	sh := e.shard(token)
	sh.mu.RLock()
	if c, hit := sh.results[key]; hit {
		if c.res.MarketPrice == marketPrice && c.res.SpotPrice == spot &&
			now.Sub(c.res.ComputedAt) < resultTTL {
			res := c.res
			sh.mu.RUnlock()
			if e.met != nil {
				e.met.GreeksCacheHits.Inc()
			}
			return res, nil
		}
	}
	sh.mu.RUnlock()

	res, err := e.compute(seg, rec, spot, marketPrice, now)
	if err != nil {
		return model.GreeksResult{}, err
	}
	sh.mu.Lock()
	sh.results[key] = &cachedResult{res: res}
	sh.mu.Unlock()
	return res, nil
}

// spotPrice reads the underlying's last traded price. The underlying
// of a derivative always lives in the sibling cash segment when one
// exists; index tokens only tick there.
func (e *Engine) spotPrice(seg model.Segment, assetToken int64) (float64, bool) {
	cashSeg := seg
	switch seg {
	case model.NSEFO:
		cashSeg = model.NSECM
	case model.BSEFO:
		cashSeg = model.BSECM
	}
	if ltp, ok := e.prices.LTP(cashSeg, assetToken); ok {
		return ltp, true
	}
	if cashSeg != seg {
		return e.prices.LTP(seg, assetToken)
	}
	return 0, false
}

func (e *Engine) compute(seg model.Segment, rec model.ContractRecord, spot, marketPrice float64, now time.Time) (model.GreeksResult, error) {
	t, err := TimeToExpiry(rec.Expiry, now, e.dc)
	if err != nil {
		return model.GreeksResult{}, fmt.Errorf("greeks: bad expiry %q for token %d: %w", rec.Expiry, rec.Token, err)
	}

	res := model.GreeksResult{
		Segment:     seg,
		Token:       rec.Token,
		SpotPrice:   spot,
		MarketPrice: marketPrice,
		ComputedAt:  now,
	}

	sol := SolveIV(spot, rec.StrikePrice, t, e.rate, marketPrice, rec.OptionType)
	res.Converged = sol.Converged
	res.Iterations = sol.Iterations
	res.Reason = sol.Reason
	if e.met != nil {
		e.met.GreeksComputed.Inc()
		e.met.IVIterations.Observe(float64(sol.Iterations))
		if !sol.Converged {
			e.met.IVNonConverged.Inc()
		}
	}
	if !sol.Converged {
		return res, nil
	}

	g := Compute(BSInput{
		Spot:   spot,
		Strike: rec.StrikePrice,
		T:      t,
		R:      e.rate,
		Sigma:  sol.IV,
		Type:   rec.OptionType,
	})
	res.IV = g.IV
	res.Delta = g.Delta
	res.Gamma = g.Gamma
	res.Theta = g.Theta
	res.Vega = g.Vega
	res.Rho = g.Rho
	res.TheoPrice = g.TheoPrice
	return res, nil
}

// CacheSize reports the number of cached results across shards.
func (e *Engine) CacheSize() int {
	n := 0
	for _, sh := range e.shards {
		sh.mu.RLock()
		n += len(sh.results)
		sh.mu.RUnlock()
	}
	return n
}
