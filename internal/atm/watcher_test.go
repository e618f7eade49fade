package atm

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"marketcore/internal/model"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapLTP(seg model.Segment, token int64, ltp float64) model.PriceSnapshot {
	return model.PriceSnapshot{
		Segment: seg, Token: token, SetMask: model.FieldLTP, LTP: ltp,
	}
}

func TestWatcherInitialResolve(t *testing.T) {
	mgr, prices := chainFixture(t)
	setLTP(prices, model.NSECM, 26000, 24523)

	w := NewWatcher(NewResolver(mgr, prices, BaseCash), discardLog(), nil, WatcherConfig{})
	info, err := w.Watch(model.NSEFO, "NIFTY", "26Mar2026")
	if err != nil {
		t.Fatal(err)
	}
	if info.ATMStrike != 24500 {
		t.Errorf("initial ATM = %v, want 24500", info.ATMStrike)
	}
	cur, ok := w.Current(model.NSEFO, "NIFTY", "26Mar2026")
	if !ok || cur.ATMStrike != 24500 {
		t.Errorf("Current = %+v ok=%v, want 24500", cur, ok)
	}
}

func TestWatcherDuplicateWatch(t *testing.T) {
	mgr, prices := chainFixture(t)
	setLTP(prices, model.NSECM, 26000, 24523)

	w := NewWatcher(NewResolver(mgr, prices, BaseCash), discardLog(), nil, WatcherConfig{})
	if _, err := w.Watch(model.NSEFO, "NIFTY", "26Mar2026"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Watch(model.NSEFO, "NIFTY", "26Mar2026"); err == nil {
		t.Error("want error on duplicate watch")
	}
}

func TestWatcherDriftRecalc(t *testing.T) {
	mgr, prices := chainFixture(t)
	setLTP(prices, model.NSECM, 26000, 24510)

	w := NewWatcher(NewResolver(mgr, prices, BaseCash), discardLog(), nil, WatcherConfig{})

	changes := make(chan model.ATMInfo, 4)
	w.Subscribe(func(info model.ATMInfo) { changes <- info })

	if _, err := w.Watch(model.NSEFO, "NIFTY", "26Mar2026"); err != nil {
		t.Fatal(err)
	}
	// Initial resolve notifies.
	first := waitATM(t, changes)
	if first.ATMStrike != 24500 {
		t.Fatalf("initial ATM = %v, want 24500", first.ATMStrike)
	}

	// Drift past half a step (25): 24510 -> 24560.
	setLTP(prices, model.NSECM, 26000, 24560)
	w.OnSnapshot(snapLTP(model.NSECM, 26000, 24560))

	next := waitATM(t, changes)
	if next.ATMStrike != 24550 {
		t.Errorf("post-drift ATM = %v, want 24550", next.ATMStrike)
	}
}

func TestWatcherBelowThresholdNoRecalc(t *testing.T) {
	mgr, prices := chainFixture(t)
	setLTP(prices, model.NSECM, 26000, 24510)

	w := NewWatcher(NewResolver(mgr, prices, BaseCash), discardLog(), nil, WatcherConfig{})
	changes := make(chan model.ATMInfo, 4)
	w.Subscribe(func(info model.ATMInfo) { changes <- info })

	if _, err := w.Watch(model.NSEFO, "NIFTY", "26Mar2026"); err != nil {
		t.Fatal(err)
	}
	waitATM(t, changes)

	// 24510 -> 24520 is under the 25-point threshold.
	setLTP(prices, model.NSECM, 26000, 24520)
	w.OnSnapshot(snapLTP(model.NSECM, 26000, 24520))

	select {
	case info := <-changes:
		t.Errorf("unexpected ATM change below threshold: %+v", info)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcherIgnoresUnrelatedTokens(t *testing.T) {
	mgr, prices := chainFixture(t)
	setLTP(prices, model.NSECM, 26000, 24510)

	w := NewWatcher(NewResolver(mgr, prices, BaseCash), discardLog(), nil, WatcherConfig{})
	changes := make(chan model.ATMInfo, 4)
	w.Subscribe(func(info model.ATMInfo) { changes <- info })

	if _, err := w.Watch(model.NSEFO, "NIFTY", "26Mar2026"); err != nil {
		t.Fatal(err)
	}
	waitATM(t, changes)

	// Option tick, not the base token: no recalc.
	w.OnSnapshot(snapLTP(model.NSEFO, 43100, 312.5))
	select {
	case info := <-changes:
		t.Errorf("unexpected ATM change from option tick: %+v", info)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitATM(t *testing.T, ch chan model.ATMInfo) model.ATMInfo {
	t.Helper()
	select {
	case info := <-ch:
		return info
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ATM update")
		return model.ATMInfo{}
	}
}
