package pricecache

import (
	"sync"
	"testing"
	"time"

	"marketcore/internal/model"
)

func ltpTick(seg model.Segment, token int64, ltp float64, ts time.Time) *model.PartialTick {
	return &model.PartialTick{
		Segment: seg, Token: token,
		Fields: model.FieldLTP, LTP: ltp, TickTS: ts,
	}
}

func TestUpdateCreatesAndMerges(t *testing.T) {
	c := New()
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	snap, ok := c.Update(ltpTick(model.NSECM, 26000, 24500.5, ts))
	if !ok {
		t.Fatal("Update rejected known segment")
	}
	if snap.LTP != 24500.5 || !snap.Has(model.FieldLTP) {
		t.Errorf("snap = %+v", snap)
	}

	// Second tick overwrites LTP, last write wins.
	snap, _ = c.Update(ltpTick(model.NSECM, 26000, 24501, ts.Add(time.Second)))
	if snap.LTP != 24501 {
		t.Errorf("LTP = %v, want 24501", snap.LTP)
	}
	if !snap.UpdatedAt.Equal(ts.Add(time.Second)) {
		t.Errorf("UpdatedAt = %v", snap.UpdatedAt)
	}
}

func TestDisjointFieldMerge(t *testing.T) {
	c := New()
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	c.Update(ltpTick(model.NSEFO, 43000, 145.5, ts))
	snap, _ := c.Update(&model.PartialTick{
		Segment: model.NSEFO, Token: 43000,
		Fields:       model.FieldOpenInterest | model.FieldVolume,
		OpenInterest: 1_250_000, Volume: 98_000,
		TickTS:       ts.Add(time.Second),
	})

	// The OI tick must not clear the earlier LTP.
	if snap.LTP != 145.5 {
		t.Errorf("LTP = %v after disjoint merge, want 145.5", snap.LTP)
	}
	if snap.OpenInterest != 1_250_000 || snap.Volume != 98_000 {
		t.Errorf("OI/vol = %d/%d", snap.OpenInterest, snap.Volume)
	}
	wantMask := model.FieldLTP | model.FieldOpenInterest | model.FieldVolume
	if snap.SetMask != wantMask {
		t.Errorf("SetMask = %b, want %b", snap.SetMask, wantMask)
	}
}

func TestStaleTimestampKept(t *testing.T) {
	c := New()
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c.Update(ltpTick(model.NSECM, 26000, 100, ts))
	snap, _ := c.Update(ltpTick(model.NSECM, 26000, 101, ts.Add(-time.Minute)))
	if !snap.UpdatedAt.Equal(ts) {
		t.Errorf("UpdatedAt = %v, older tick must not rewind it", snap.UpdatedAt)
	}
}

func TestUnknownSegmentRejected(t *testing.T) {
	c := New()
	_, ok := c.Update(ltpTick(model.Segment(99), 1, 100, time.Now()))
	if ok {
		t.Error("Update accepted unknown segment")
	}
	if _, ok := c.Get(model.Segment(99), 1); ok {
		t.Error("Get hit for unknown segment")
	}
}

func TestGetAndLTP(t *testing.T) {
	c := New()
	if _, ok := c.Get(model.NSECM, 26000); ok {
		t.Error("Get hit before any tick")
	}
	if _, ok := c.LTP(model.NSECM, 26000); ok {
		t.Error("LTP hit before any tick")
	}

	c.Update(&model.PartialTick{
		Segment: model.NSECM, Token: 26000,
		Fields: model.FieldVolume, Volume: 10,
		TickTS: time.Now(),
	})
	// Volume-only snapshot exists but has no LTP yet.
	if _, ok := c.Get(model.NSECM, 26000); !ok {
		t.Error("Get miss after volume tick")
	}
	if _, ok := c.LTP(model.NSECM, 26000); ok {
		t.Error("LTP must miss until FieldLTP is set")
	}

	c.Update(ltpTick(model.NSECM, 26000, 24500, time.Now()))
	ltp, ok := c.LTP(model.NSECM, 26000)
	if !ok || ltp != 24500 {
		t.Errorf("LTP = %v ok=%v", ltp, ok)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	c := New()
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				tok := int64(43000 + i%16)
				c.Update(ltpTick(model.NSEFO, tok, float64(100+i), ts.Add(time.Duration(i))))
				c.Get(model.NSEFO, tok)
			}
		}(w)
	}
	wg.Wait()

	if n := c.Size(model.NSEFO); n != 16 {
		t.Errorf("Size = %d, want 16", n)
	}
	for i := 0; i < 16; i++ {
		snap, ok := c.Get(model.NSEFO, int64(43000+i))
		if !ok || !snap.Has(model.FieldLTP) {
			t.Errorf("token %d missing after concurrent load", 43000+i)
		}
	}
}

func TestStats(t *testing.T) {
	c := New()
	c.Update(ltpTick(model.NSECM, 26000, 1, time.Now()))
	c.Update(ltpTick(model.NSEFO, 43000, 1, time.Now()))
	c.Update(ltpTick(model.NSEFO, 43001, 1, time.Now()))

	stats := c.Stats()
	if stats[model.NSECM] != 1 || stats[model.NSEFO] != 2 {
		t.Errorf("stats = %v", stats)
	}
	if stats[model.BSECM] != 0 {
		t.Errorf("BSECM = %d, want 0", stats[model.BSECM])
	}
}
