// Package repository holds the contract master repositories: one dense,
// token-indexed store per exchange segment, a variant-layout master feed
// parser, and the manager that loads, snapshots and finalizes them.
package repository

import (
	"sort"
	"strconv"
	"sync/atomic"

	"marketcore/internal/model"
)

// SpreadTokenMin is the canonical threshold above which a token is a
// synthetic spread-contract identifier stored in the overflow map rather
// than the dense array.
const SpreadTokenMin int64 = 10_000_000

// Config describes one segment's packed token range. Tokens inside
// [MinToken, MaxToken] live in the dense array; everything else goes to the
// overflow map.
type Config struct {
	Segment  model.Segment
	MinToken int64
	MaxToken int64
}

// DefaultConfigs mirrors the exchanges' observed token allocation. The NSEFO
// range is packed (~70% fill); the cash segments are sparser but still
// bounded, and the overflow map catches anything the ranges miss.
var DefaultConfigs = map[model.Segment]Config{
	model.NSECM: {Segment: model.NSECM, MinToken: 1, MaxToken: 99_999},
	model.NSEFO: {Segment: model.NSEFO, MinToken: 35_000, MaxToken: 199_950},
	model.BSECM: {Segment: model.BSECM, MinToken: 500_000, MaxToken: 599_999},
	model.BSEFO: {Segment: model.BSEFO, MinToken: 800_000, MaxToken: 1_199_999},
}

// strikeTokens pairs the call and put token at one strike.
type strikeTokens struct {
	call int64
	put  int64
}

// SegmentRepository owns all contract records for one exchange segment.
//
// Storage is columnar: one dense slice per field, addressed by
// token − MinToken, with a validity flag per slot. Records are written only
// during a load pass (single goroutine); FinalizeLoad builds the secondary
// indexes and flips the repository to effectively read-only, after which
// readers need no locks.
type SegmentRepository struct {
	cfg       Config
	finalized atomic.Bool

	// Dense columns, len = MaxToken − MinToken + 1.
	valid          []bool
	symbol         []string
	series         []string
	instrumentType []int32
	assetToken     []int64
	expiry         []string
	strikePrice    []float64
	optionType     []model.OptionType
	lotSize        []int32
	tickSize       []float64
	displayName    []string
	description    []string
	freezeQty      []int32
	priceBandHigh  []float64
	priceBandLow   []float64
	isin           []string

	// Overflow for out-of-range tokens (spread contracts and the like).
	overflow map[int64]model.ContractRecord

	count       int
	spreadCount int

	// Secondary indexes, built once in FinalizeLoad.
	bySeries           map[string][]int32
	bySymbol           map[string][]int32
	overflowBySeries   map[string][]int64 // series → overflow tokens, sorted
	overflowBySymbol   map[string][]int64 // symbol → overflow tokens, sorted
	symbolAssetToken   map[string]int64
	symbolExpiryStrike map[string][]float64      // symbol|expiry → sorted strikes
	strikeTokenPair    map[string]strikeTokens   // symbol|expiry|strike → CE/PE tokens
	futureToken        map[string]int64          // symbol|expiry → future token
	optionExpiries     map[string][]string       // symbol → sorted option expiries
}

// New allocates an empty repository for the given segment config.
func New(cfg Config) *SegmentRepository {
	n := cfg.MaxToken - cfg.MinToken + 1
	return &SegmentRepository{
		cfg:            cfg,
		valid:          make([]bool, n),
		symbol:         make([]string, n),
		series:         make([]string, n),
		instrumentType: make([]int32, n),
		assetToken:     make([]int64, n),
		expiry:         make([]string, n),
		strikePrice:    make([]float64, n),
		optionType:     make([]model.OptionType, n),
		lotSize:        make([]int32, n),
		tickSize:       make([]float64, n),
		displayName:    make([]string, n),
		description:    make([]string, n),
		freezeQty:      make([]int32, n),
		priceBandHigh:  make([]float64, n),
		priceBandLow:   make([]float64, n),
		isin:           make([]string, n),
		overflow:       make(map[int64]model.ContractRecord, 512),
	}
}

// Segment returns the segment this repository serves.
func (r *SegmentRepository) Segment() model.Segment { return r.cfg.Segment }

func (r *SegmentRepository) inRange(token int64) bool {
	return token >= r.cfg.MinToken && token <= r.cfg.MaxToken
}

func (r *SegmentRepository) slot(token int64) int32 {
	return int32(token - r.cfg.MinToken)
}

// Insert stores one record. Load phase only: inserting after FinalizeLoad or
// inserting a token that already has a valid slot fails.
func (r *SegmentRepository) Insert(rec model.ContractRecord) error {
	if r.finalized.Load() {
		return ErrNotReady // insert after finalize is the same class of misuse
	}
	if r.inRange(rec.Token) {
		idx := r.slot(rec.Token)
		if r.valid[idx] {
			return ErrDuplicateToken
		}
		r.valid[idx] = true
		r.symbol[idx] = rec.Symbol
		r.series[idx] = rec.Series
		r.instrumentType[idx] = int32(rec.InstrumentType)
		r.assetToken[idx] = rec.AssetToken
		r.expiry[idx] = rec.Expiry
		r.strikePrice[idx] = rec.StrikePrice
		r.optionType[idx] = rec.OptionType
		r.lotSize[idx] = int32(rec.LotSize)
		r.tickSize[idx] = rec.TickSize
		r.displayName[idx] = rec.DisplayName
		r.description[idx] = rec.Description
		r.freezeQty[idx] = int32(rec.FreezeQty)
		r.priceBandHigh[idx] = rec.PriceBandHigh
		r.priceBandLow[idx] = rec.PriceBandLow
		r.isin[idx] = rec.ISIN
		r.count++
		return nil
	}
	if _, dup := r.overflow[rec.Token]; dup {
		return ErrDuplicateToken
	}
	r.overflow[rec.Token] = rec
	if rec.Token >= SpreadTokenMin {
		r.spreadCount++
	}
	r.count++
	return nil
}

// materialize rebuilds the full record from the dense columns.
func (r *SegmentRepository) materialize(idx int32) model.ContractRecord {
	return model.ContractRecord{
		Token:          r.cfg.MinToken + int64(idx),
		Symbol:         r.symbol[idx],
		Series:         r.series[idx],
		InstrumentType: int(r.instrumentType[idx]),
		AssetToken:     r.assetToken[idx],
		Expiry:         r.expiry[idx],
		StrikePrice:    r.strikePrice[idx],
		OptionType:     r.optionType[idx],
		LotSize:        int(r.lotSize[idx]),
		TickSize:       r.tickSize[idx],
		DisplayName:    r.displayName[idx],
		Description:    r.description[idx],
		FreezeQty:      int(r.freezeQty[idx]),
		PriceBandHigh:  r.priceBandHigh[idx],
		PriceBandLow:   r.priceBandLow[idx],
		ISIN:           r.isin[idx],
	}
}

// Lookup resolves a token in O(1): dense slot first, then the overflow map.
// Absence is a normal outcome, reported via ok=false.
func (r *SegmentRepository) Lookup(token int64) (model.ContractRecord, bool) {
	if r.inRange(token) {
		idx := r.slot(token)
		if !r.valid[idx] {
			return model.ContractRecord{}, false
		}
		return r.materialize(idx), true
	}
	rec, ok := r.overflow[token]
	return rec, ok
}

// UpdateAssetToken rewrites a contract's underlying asset token. Used by the
// second-pass index resolution before FinalizeLoad.
func (r *SegmentRepository) UpdateAssetToken(token, asset int64) bool {
	if r.finalized.Load() {
		return false
	}
	if r.inRange(token) {
		idx := r.slot(token)
		if !r.valid[idx] {
			return false
		}
		r.assetToken[idx] = asset
		return true
	}
	rec, ok := r.overflow[token]
	if !ok {
		return false
	}
	rec.AssetToken = asset
	r.overflow[token] = rec
	return true
}

// FinalizeLoad builds every secondary index in one pass over the dense array
// and the overflow map, then marks the repository ready. Index queries before
// this returns fail with ErrNotReady; after it returns the repository is
// read-only and reader-safe without locks.
func (r *SegmentRepository) FinalizeLoad() {
	r.bySeries = make(map[string][]int32)
	r.bySymbol = make(map[string][]int32)
	r.overflowBySeries = make(map[string][]int64)
	r.overflowBySymbol = make(map[string][]int64)
	r.symbolAssetToken = make(map[string]int64)
	r.symbolExpiryStrike = make(map[string][]float64)
	r.strikeTokenPair = make(map[string]strikeTokens)
	r.futureToken = make(map[string]int64)
	r.optionExpiries = make(map[string][]string)

	expirySets := make(map[string]map[string]struct{})

	for idx := int32(0); idx < int32(len(r.valid)); idx++ {
		if !r.valid[idx] {
			continue
		}
		sym := r.symbol[idx]
		r.bySeries[r.series[idx]] = append(r.bySeries[r.series[idx]], idx)
		r.bySymbol[sym] = append(r.bySymbol[sym], idx)
		if at := r.assetToken[idx]; at > 0 {
			r.symbolAssetToken[sym] = at
		} else if _, seen := r.symbolAssetToken[sym]; !seen {
			r.symbolAssetToken[sym] = 0
		}

		switch int(r.instrumentType[idx]) {
		case model.InstrumentOption:
			if r.optionType[idx] != model.OptionCall && r.optionType[idx] != model.OptionPut {
				break
			}
			key := symbolExpiryKey(sym, r.expiry[idx])
			skey := strikeKey(sym, r.expiry[idx], r.strikePrice[idx])
			pair := r.strikeTokenPair[skey]
			tok := r.cfg.MinToken + int64(idx)
			if r.optionType[idx] == model.OptionCall {
				pair.call = tok
			} else {
				pair.put = tok
			}
			r.strikeTokenPair[skey] = pair
			r.symbolExpiryStrike[key] = appendUniqueStrike(r.symbolExpiryStrike[key], r.strikePrice[idx])
			set := expirySets[sym]
			if set == nil {
				set = make(map[string]struct{})
				expirySets[sym] = set
			}
			set[r.expiry[idx]] = struct{}{}
		case model.InstrumentFuture:
			r.futureToken[symbolExpiryKey(sym, r.expiry[idx])] = r.cfg.MinToken + int64(idx)
		}
	}

	for tok, rec := range r.overflow {
		r.overflowBySeries[rec.Series] = append(r.overflowBySeries[rec.Series], tok)
		r.overflowBySymbol[rec.Symbol] = append(r.overflowBySymbol[rec.Symbol], tok)
	}
	for _, toks := range r.overflowBySeries {
		sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })
	}
	for _, toks := range r.overflowBySymbol {
		sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })
	}

	for key := range r.symbolExpiryStrike {
		sort.Float64s(r.symbolExpiryStrike[key])
	}
	for sym, set := range expirySets {
		exps := make([]string, 0, len(set))
		for e := range set {
			exps = append(exps, e)
		}
		sort.Slice(exps, func(i, j int) bool {
			di, erri := model.ParseExpiry(exps[i])
			dj, errj := model.ParseExpiry(exps[j])
			if erri != nil || errj != nil {
				return exps[i] < exps[j]
			}
			return di.Before(dj)
		})
		r.optionExpiries[sym] = exps
	}

	r.finalized.Store(true)
}

// Ready reports whether FinalizeLoad has completed.
func (r *SegmentRepository) Ready() bool { return r.finalized.Load() }

// Count returns the number of loaded contracts (regular + overflow).
func (r *SegmentRepository) Count() int { return r.count }

// SpreadCount returns the number of overflow spread contracts.
func (r *SegmentRepository) SpreadCount() int { return r.spreadCount }

// ContractsBySeries returns exactly the records whose series matches, via the
// series index — never a scan.
func (r *SegmentRepository) ContractsBySeries(series string) ([]model.ContractRecord, error) {
	if !r.finalized.Load() {
		return nil, ErrNotReady
	}
	slots := r.bySeries[series]
	ovf := r.overflowBySeries[series]
	out := make([]model.ContractRecord, 0, len(slots)+len(ovf))
	for _, idx := range slots {
		out = append(out, r.materialize(idx))
	}
	for _, tok := range ovf {
		out = append(out, r.overflow[tok])
	}
	return out, nil
}

// ContractsBySymbol returns all records for one underlying symbol.
func (r *SegmentRepository) ContractsBySymbol(symbol string) ([]model.ContractRecord, error) {
	if !r.finalized.Load() {
		return nil, ErrNotReady
	}
	slots := r.bySymbol[symbol]
	ovf := r.overflowBySymbol[symbol]
	out := make([]model.ContractRecord, 0, len(slots)+len(ovf))
	for _, idx := range slots {
		out = append(out, r.materialize(idx))
	}
	for _, tok := range ovf {
		out = append(out, r.overflow[tok])
	}
	return out, nil
}

// ContractsBySymbolExpiry filters the symbol index by expiry and, when
// instrumentType >= 0, by instrument type.
func (r *SegmentRepository) ContractsBySymbolExpiry(symbol, expiry string, instrumentType int) ([]model.ContractRecord, error) {
	if !r.finalized.Load() {
		return nil, ErrNotReady
	}
	var out []model.ContractRecord
	for _, idx := range r.bySymbol[symbol] {
		if r.expiry[idx] != expiry {
			continue
		}
		if instrumentType >= 0 && int(r.instrumentType[idx]) != instrumentType {
			continue
		}
		out = append(out, r.materialize(idx))
	}
	for _, tok := range r.overflowBySymbol[symbol] {
		rec := r.overflow[tok]
		if rec.Expiry == expiry &&
			(instrumentType < 0 || rec.InstrumentType == instrumentType) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// AssetToken returns the underlying asset token for a symbol. ok=false means
// the symbol is unknown; a zero token with ok=true means known but unresolved.
func (r *SegmentRepository) AssetToken(symbol string) (int64, bool) {
	if !r.finalized.Load() {
		return 0, false
	}
	tok, ok := r.symbolAssetToken[symbol]
	return tok, ok
}

// StrikesFor returns the sorted strikes trading for symbol+expiry.
func (r *SegmentRepository) StrikesFor(symbol, expiry string) ([]float64, error) {
	if !r.finalized.Load() {
		return nil, ErrNotReady
	}
	return r.symbolExpiryStrike[symbolExpiryKey(symbol, expiry)], nil
}

// TokensForStrike returns the CE and PE tokens at one strike; zero means no
// contract at that strike.
func (r *SegmentRepository) TokensForStrike(symbol, expiry string, strike float64) (call, put int64, err error) {
	if !r.finalized.Load() {
		return 0, 0, ErrNotReady
	}
	pair := r.strikeTokenPair[strikeKey(symbol, expiry, strike)]
	return pair.call, pair.put, nil
}

// FutureTokenFor returns the future contract token for symbol+expiry, or 0.
func (r *SegmentRepository) FutureTokenFor(symbol, expiry string) (int64, error) {
	if !r.finalized.Load() {
		return 0, ErrNotReady
	}
	return r.futureToken[symbolExpiryKey(symbol, expiry)], nil
}

// ExpiriesFor returns the option expiries for a symbol, soonest first.
func (r *SegmentRepository) ExpiriesFor(symbol string) ([]string, error) {
	if !r.finalized.Load() {
		return nil, ErrNotReady
	}
	return r.optionExpiries[symbol], nil
}

// NearestExpiry returns the first expiry on or after today, falling back to
// the last known expiry when all are past.
func (r *SegmentRepository) NearestExpiry(symbol string, today string) (string, bool) {
	exps, err := r.ExpiriesFor(symbol)
	if err != nil || len(exps) == 0 {
		return "", false
	}
	ref, err := model.ParseExpiry(today)
	if err != nil {
		return exps[0], true
	}
	for _, e := range exps {
		d, err := model.ParseExpiry(e)
		if err == nil && !d.Before(ref) {
			return e, true
		}
	}
	return exps[len(exps)-1], true
}

// ForEach visits every loaded record in token order, overflow last.
func (r *SegmentRepository) ForEach(fn func(model.ContractRecord)) {
	for idx := int32(0); idx < int32(len(r.valid)); idx++ {
		if r.valid[idx] {
			fn(r.materialize(idx))
		}
	}
	keys := make([]int64, 0, len(r.overflow))
	for tok := range r.overflow {
		keys = append(keys, tok)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, tok := range keys {
		fn(r.overflow[tok])
	}
}

func symbolExpiryKey(symbol, expiry string) string {
	return symbol + "|" + expiry
}

func strikeKey(symbol, expiry string, strike float64) string {
	return symbol + "|" + expiry + "|" + strconv.FormatFloat(strike, 'f', 2, 64)
}

func appendUniqueStrike(strikes []float64, s float64) []float64 {
	for _, v := range strikes {
		if v == s {
			return strikes
		}
	}
	return append(strikes, s)
}
