package atm

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"marketcore/internal/model"
	"marketcore/internal/pricecache"
	"marketcore/internal/repository"
)

func TestResolveStrike(t *testing.T) {
	cases := []struct {
		spot   float64
		step   float64
		offset int
		want   float64
	}{
		{24550, 50, 0, 24550},
		{24523, 50, 0, 24500},
		{24525, 50, 0, 24550}, // tie rounds up
		{24574.9, 50, 0, 24550},
		{24575, 50, 0, 24600},
		{24550, 50, 1, 24600},
		{24550, 50, -2, 24450},
		{51234, 100, 0, 51200},
		{51250, 100, 0, 51300},
		{100, 0, 0, 0}, // bad step
	}
	for _, c := range cases {
		if got := ResolveStrike(c.spot, c.step, c.offset); got != c.want {
			t.Errorf("ResolveStrike(%v, %v, %d) = %v, want %v", c.spot, c.step, c.offset, got, c.want)
		}
	}
}

func TestStrikeStep(t *testing.T) {
	cases := []struct {
		name    string
		strikes []float64
		want    float64
	}{
		{"uniform 50", []float64{24400, 24450, 24500, 24550}, 50},
		{"unsorted", []float64{24550, 24400, 24500, 24450}, 50},
		{"mixed gaps", []float64{24000, 24500, 24550, 24600, 25000}, 50},
		{"single strike", []float64{24500}, 0},
		{"empty", nil, 0},
		{"duplicates", []float64{24500, 24500, 24600}, 100},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StrikeStep(c.strikes); got != c.want {
				t.Errorf("StrikeStep = %v, want %v", got, c.want)
			}
		})
	}
}

// chainFixture loads NIFTY with a small 50-step option chain plus a
// future, and the index in the cash segment.
func chainFixture(t *testing.T) (*repository.Manager, *pricecache.Cache) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := repository.NewManager(log)

	recs := []repository.SegmentRecord{
		{Segment: model.NSECM, Record: model.ContractRecord{
			Token: 26000, Symbol: "NIFTY", Series: "EQ",
			InstrumentType: model.InstrumentEquity,
		}},
		{Segment: model.NSEFO, Record: model.ContractRecord{
			Token: 43001, Symbol: "NIFTY", InstrumentType: model.InstrumentFuture,
			AssetToken: 26000, Expiry: "26Mar2026",
		}},
	}
	tok := int64(43100)
	for strike := 24300.0; strike <= 24800; strike += 50 {
		recs = append(recs,
			repository.SegmentRecord{Segment: model.NSEFO, Record: model.ContractRecord{
				Token: tok, Symbol: "NIFTY", InstrumentType: model.InstrumentOption,
				AssetToken: 26000, Expiry: "26Mar2026", StrikePrice: strike,
				OptionType: model.OptionCall,
			}},
			repository.SegmentRecord{Segment: model.NSEFO, Record: model.ContractRecord{
				Token: tok + 1, Symbol: "NIFTY", InstrumentType: model.InstrumentOption,
				AssetToken: 26000, Expiry: "26Mar2026", StrikePrice: strike,
				OptionType: model.OptionPut,
			}},
		)
		tok += 2
	}
	if sum := mgr.LoadFromRecords(recs); sum.Loaded != len(recs) {
		t.Fatalf("loaded %d records, want %d", sum.Loaded, len(recs))
	}
	mgr.FinalizeAll()
	return mgr, pricecache.New()
}

func setLTP(c *pricecache.Cache, seg model.Segment, token int64, ltp float64) {
	c.Update(&model.PartialTick{
		Segment: seg, Token: token, Fields: model.FieldLTP, LTP: ltp, TickTS: time.Now(),
	})
}

func TestResolverCashBase(t *testing.T) {
	mgr, prices := chainFixture(t)
	setLTP(prices, model.NSECM, 26000, 24523)

	res := NewResolver(mgr, prices, BaseCash)
	info, err := res.Resolve(model.NSEFO, "NIFTY", "26Mar2026")
	if err != nil {
		t.Fatal(err)
	}
	if info.ATMStrike != 24500 {
		t.Errorf("ATM strike = %v, want 24500", info.ATMStrike)
	}
	if info.StrikeStep != 50 {
		t.Errorf("strike step = %v, want 50", info.StrikeStep)
	}
	if info.CallToken == 0 || info.PutToken == 0 {
		t.Errorf("missing option tokens: call=%d put=%d", info.CallToken, info.PutToken)
	}
	if info.CallToken == info.PutToken {
		t.Error("call and put tokens must differ")
	}
}

func TestResolverFutureBase(t *testing.T) {
	mgr, prices := chainFixture(t)
	// Future trades at a premium to cash; ATM should key off it.
	setLTP(prices, model.NSECM, 26000, 24523)
	setLTP(prices, model.NSEFO, 43001, 24551)

	res := NewResolver(mgr, prices, BaseFuture)
	info, err := res.Resolve(model.NSEFO, "NIFTY", "26Mar2026")
	if err != nil {
		t.Fatal(err)
	}
	if info.ATMStrike != 24550 {
		t.Errorf("ATM strike = %v, want 24550", info.ATMStrike)
	}
	if info.SpotPrice != 24551 {
		t.Errorf("base price = %v, want future LTP 24551", info.SpotPrice)
	}
}

func TestResolverSnapsToListedEdge(t *testing.T) {
	mgr, prices := chainFixture(t)
	// Spot far above the listed chain: snap to the top strike.
	setLTP(prices, model.NSECM, 26000, 26000)

	res := NewResolver(mgr, prices, BaseCash)
	info, err := res.Resolve(model.NSEFO, "NIFTY", "26Mar2026")
	if err != nil {
		t.Fatal(err)
	}
	if info.ATMStrike != 24800 {
		t.Errorf("ATM strike = %v, want top of chain 24800", info.ATMStrike)
	}
}

func TestResolveCarriesSegment(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := repository.NewManager(log)

	recs := []repository.SegmentRecord{
		{Segment: model.BSECM, Record: model.ContractRecord{
			Token: 500_100, Symbol: "SENSEX", Series: "EQ",
			InstrumentType: model.InstrumentEquity,
		}},
	}
	tok := int64(800_100)
	for strike := 81000.0; strike <= 81300; strike += 100 {
		recs = append(recs,
			repository.SegmentRecord{Segment: model.BSEFO, Record: model.ContractRecord{
				Token: tok, Symbol: "SENSEX", InstrumentType: model.InstrumentOption,
				AssetToken: 500_100, Expiry: "26Mar2026", StrikePrice: strike,
				OptionType: model.OptionCall,
			}},
			repository.SegmentRecord{Segment: model.BSEFO, Record: model.ContractRecord{
				Token: tok + 1, Symbol: "SENSEX", InstrumentType: model.InstrumentOption,
				AssetToken: 500_100, Expiry: "26Mar2026", StrikePrice: strike,
				OptionType: model.OptionPut,
			}},
		)
		tok += 2
	}
	if sum := mgr.LoadFromRecords(recs); sum.Loaded != len(recs) {
		t.Fatalf("loaded %d records, want %d", sum.Loaded, len(recs))
	}
	mgr.FinalizeAll()

	prices := pricecache.New()
	setLTP(prices, model.BSECM, 500_100, 81140)

	res := NewResolver(mgr, prices, BaseCash)
	info, err := res.Resolve(model.BSEFO, "SENSEX", "26Mar2026")
	if err != nil {
		t.Fatal(err)
	}
	// The option pair lives in BSEFO; a subscriber routing off info
	// must see that segment, not the default NSE one.
	if info.Segment != model.BSEFO {
		t.Errorf("info.Segment = %v, want BSEFO", info.Segment)
	}
	if info.ATMStrike != 81100 {
		t.Errorf("ATM strike = %v, want 81100", info.ATMStrike)
	}
}

func TestResolverNoQuote(t *testing.T) {
	mgr, prices := chainFixture(t)
	res := NewResolver(mgr, prices, BaseCash)
	if _, err := res.Resolve(model.NSEFO, "NIFTY", "26Mar2026"); err == nil {
		t.Error("want error with no base quote")
	}
}
