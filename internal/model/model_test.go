package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseExpiry(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"27MAR2026", time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC)},
		{"27-MAR-2026", time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC)},
		{"27mar2026", time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC)},
		{"2026-03-27", time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC)},
		{"05JAN2026", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseExpiry(tc.in)
		if err != nil {
			t.Errorf("ParseExpiry(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseExpiry(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "notadate", "32MAR2026", "27XYZ2026"} {
		if _, err := ParseExpiry(bad); err == nil {
			t.Errorf("ParseExpiry(%q) did not fail", bad)
		}
	}
}

func TestFormatExpiryRoundTrip(t *testing.T) {
	d := time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC)
	s := FormatExpiry(d)
	if s != "27MAR2026" {
		t.Fatalf("FormatExpiry = %q", s)
	}
	back, err := ParseExpiry(s)
	if err != nil || !back.Equal(d) {
		t.Errorf("round trip = %v err=%v", back, err)
	}
}

func TestParseSegment(t *testing.T) {
	for _, seg := range Segments {
		got, err := ParseSegment(seg.String())
		if err != nil || got != seg {
			t.Errorf("ParseSegment(%q) = %v err=%v", seg.String(), got, err)
		}
	}
	if _, err := ParseSegment("NYSE"); err == nil {
		t.Error("ParseSegment accepted unknown name")
	}
}

func TestSegmentIsDerivative(t *testing.T) {
	if NSECM.IsDerivative() || BSECM.IsDerivative() {
		t.Error("cash segments report derivative")
	}
	if !NSEFO.IsDerivative() || !BSEFO.IsDerivative() {
		t.Error("derivative segments do not report derivative")
	}
}

func TestOptionTypeRoundTrip(t *testing.T) {
	for _, ot := range []OptionType{OptionCall, OptionPut, OptionSpread} {
		if got := ParseOptionType(ot.String()); got != ot {
			t.Errorf("round trip %v -> %q -> %v", ot, ot.String(), got)
		}
	}
	if ParseOptionType("XX") != OptionNone {
		t.Error("XX must parse to OptionNone")
	}
}

func TestMergeNeverClearsFields(t *testing.T) {
	var snap PriceSnapshot
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	snap.Merge(&PartialTick{
		Segment: NSEFO, Token: 43000,
		Fields: FieldLTP | FieldBidPrice | FieldBidQty,
		LTP:    145.5, BidPrice: 145.4, BidQty: 500,
		TickTS: ts,
	})
	snap.Merge(&PartialTick{
		Segment: NSEFO, Token: 43000,
		Fields: FieldOpenInterest,
		// Zero values in the unclaimed fields must be ignored.
		OpenInterest: 1_000_000,
		TickTS:       ts.Add(time.Second),
	})

	if snap.LTP != 145.5 || snap.BidPrice != 145.4 || snap.BidQty != 500 {
		t.Errorf("touchline fields lost: %+v", snap)
	}
	if snap.OpenInterest != 1_000_000 {
		t.Errorf("OI = %d", snap.OpenInterest)
	}
	if !snap.Has(FieldLTP) || !snap.Has(FieldOpenInterest) {
		t.Errorf("SetMask = %b", snap.SetMask)
	}
	if snap.Has(FieldVolume) {
		t.Error("volume bit set without a volume tick")
	}
}

func TestMergeIdempotent(t *testing.T) {
	tick := &PartialTick{
		Segment: NSEFO, Token: 43000,
		Fields: TouchlineFields,
		LTP:    145.5, LastQty: 50,
		BidPrice: 145.4, BidQty: 500, AskPrice: 145.6, AskQty: 400,
		TickTS: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	var a, b PriceSnapshot
	a.Merge(tick)
	b.Merge(tick)
	b.Merge(tick)
	if a != b {
		t.Errorf("re-merge changed the snapshot: %+v vs %+v", a, b)
	}
}

func TestSnapshotJSON(t *testing.T) {
	snap := PriceSnapshot{
		Segment: NSEFO, Token: 43000, SetMask: FieldLTP,
		LTP:       145.5,
		UpdatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	raw := snap.JSON()

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["ltp"] != 145.5 {
		t.Errorf("ltp = %v", decoded["ltp"])
	}
	if decoded["token"] != float64(43000) {
		t.Errorf("token = %v", decoded["token"])
	}
}

func TestGreeksResultJSONOmitsEmptyReason(t *testing.T) {
	res := GreeksResult{Segment: NSEFO, Token: 43000, Converged: true, IV: 0.18}
	var decoded map[string]any
	if err := json.Unmarshal(res.JSON(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := decoded["reason"]; present {
		t.Error("reason serialized for converged result")
	}

	res.Converged = false
	res.Reason = "price below intrinsic"
	if err := json.Unmarshal(res.JSON(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["reason"] != "price below intrinsic" {
		t.Errorf("reason = %v", decoded["reason"])
	}
}

func TestContractRecordHelpers(t *testing.T) {
	call := ContractRecord{Token: 43000, OptionType: OptionCall}
	fut := ContractRecord{Token: 43100}
	if !call.IsOption() || fut.IsOption() {
		t.Error("IsOption misclassifies")
	}
	if call.Key(NSEFO) != "NSEFO:43000" {
		t.Errorf("Key = %q", call.Key(NSEFO))
	}
}
