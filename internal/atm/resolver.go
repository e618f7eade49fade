// Package atm tracks the at-the-money strike per watched symbol and
// expiry, recalculating when the base price drifts past half a strike
// step and on a backup timer.
package atm

import (
	"fmt"
	"math"
	"sort"

	"marketcore/internal/model"
	"marketcore/internal/pricecache"
	"marketcore/internal/repository"
)

// BaseSource selects where the base price for ATM selection comes from.
type BaseSource int

const (
	// BaseCash uses the underlying's cash/index LTP.
	BaseCash BaseSource = iota
	// BaseFuture uses the near future's LTP for the same expiry.
	BaseFuture
)

// ResolveStrike rounds spot to the nearest multiple of step, ties going
// to the higher strike, then applies the offset in whole steps. Offset 0
// is the ATM strike, +1 one step above, -1 one step below.
func ResolveStrike(spot, step float64, offset int) float64 {
	if step <= 0 {
		return 0
	}
	return math.Floor(spot/step+0.5)*step + float64(offset)*step
}

// StrikeStep infers the strike interval from the listed chain: the
// smallest gap between adjacent strikes. Weekly chains list extra
// strikes near the money, so the minimum is the right pick.
func StrikeStep(strikes []float64) float64 {
	if len(strikes) < 2 {
		return 0
	}
	sorted := make([]float64, len(strikes))
	copy(sorted, strikes)
	sort.Float64s(sorted)
	step := math.Inf(1)
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i] - sorted[i-1]; d > 0 && d < step {
			step = d
		}
	}
	if math.IsInf(step, 1) {
		return 0
	}
	return step
}

// Resolver answers point-in-time ATM queries against the loaded chain
// and the live price cache.
type Resolver struct {
	mgr    *repository.Manager
	prices *pricecache.Cache
	source BaseSource
}

// NewResolver builds a Resolver over the finalized repositories.
func NewResolver(mgr *repository.Manager, prices *pricecache.Cache, source BaseSource) *Resolver {
	return &Resolver{mgr: mgr, prices: prices, source: source}
}

// basePrice fetches the LTP the ATM selection keys off. Cash mode reads
// the underlying token in the sibling cash segment; future mode reads
// the same-expiry future in the derivative segment.
func (r *Resolver) basePrice(seg model.Segment, symbol, expiry string) (float64, error) {
	repo := r.mgr.Segment(seg)
	if repo == nil {
		return 0, fmt.Errorf("atm: no repository for %s", seg)
	}
	if r.source == BaseFuture {
		futTok, err := repo.FutureTokenFor(symbol, expiry)
		if err != nil {
			return 0, fmt.Errorf("atm: future token for %s %s: %w", symbol, expiry, err)
		}
		ltp, ok := r.prices.LTP(seg, futTok)
		if !ok {
			return 0, fmt.Errorf("atm: no future quote for %s %s (token %d)", symbol, expiry, futTok)
		}
		return ltp, nil
	}

	asset, ok := repo.AssetToken(symbol)
	if !ok || asset <= 0 {
		return 0, fmt.Errorf("atm: no underlying token for %s in %s", symbol, seg)
	}
	cashSeg := seg
	switch seg {
	case model.NSEFO:
		cashSeg = model.NSECM
	case model.BSEFO:
		cashSeg = model.BSECM
	}
	ltp, ok := r.prices.LTP(cashSeg, asset)
	if !ok {
		return 0, fmt.Errorf("atm: no cash quote for %s (token %d in %s)", symbol, asset, cashSeg)
	}
	return ltp, nil
}

// Resolve computes the current ATM info for a symbol and expiry.
func (r *Resolver) Resolve(seg model.Segment, symbol, expiry string) (model.ATMInfo, error) {
	repo := r.mgr.Segment(seg)
	if repo == nil {
		return model.ATMInfo{}, fmt.Errorf("atm: no repository for %s", seg)
	}
	spot, err := r.basePrice(seg, symbol, expiry)
	if err != nil {
		return model.ATMInfo{}, err
	}
	strikes, err := repo.StrikesFor(symbol, expiry)
	if err != nil {
		return model.ATMInfo{}, fmt.Errorf("atm: strikes for %s %s: %w", symbol, expiry, err)
	}
	step := StrikeStep(strikes)
	if step <= 0 {
		return model.ATMInfo{}, fmt.Errorf("atm: cannot infer strike step for %s %s (%d strikes)", symbol, expiry, len(strikes))
	}

	atmStrike := ResolveStrike(spot, step, 0)
	atmStrike = nearestListed(strikes, atmStrike)

	call, put, err := repo.TokensForStrike(symbol, expiry, atmStrike)
	if err != nil {
		return model.ATMInfo{}, fmt.Errorf("atm: tokens for %s %s @ %v: %w", symbol, expiry, atmStrike, err)
	}

	return model.ATMInfo{
		Segment:    seg,
		Symbol:     symbol,
		Expiry:     expiry,
		SpotPrice:  spot,
		StrikeStep: step,
		ATMStrike:  atmStrike,
		CallToken:  call,
		PutToken:   put,
	}, nil
}

// nearestListed snaps a computed strike to the closest one actually
// listed, for the edges of the chain where rounding can step outside
// the listed range.
func nearestListed(strikes []float64, strike float64) float64 {
	best := strike
	dist := math.Inf(1)
	for _, s := range strikes {
		if d := math.Abs(s - strike); d < dist {
			dist = d
			best = s
		}
	}
	return best
}
