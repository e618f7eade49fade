package markethours

import (
	"testing"
	"time"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"weekday mid-session", ist(2026, 2, 2, 11, 0), true},
		{"weekday at open", ist(2026, 2, 2, 9, 15), true},
		{"weekday before open", ist(2026, 2, 2, 9, 0), false},
		{"weekday at close", ist(2026, 2, 2, 15, 30), false},
		{"saturday", ist(2026, 2, 7, 11, 0), false},
		{"sunday", ist(2026, 2, 8, 11, 0), false},
		{"republic day", ist(2026, 1, 26, 11, 0), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsMarketOpen(c.t); got != c.want {
				t.Errorf("IsMarketOpen(%v) = %v, want %v", c.t, got, c.want)
			}
		})
	}
}

func TestIsMarketOpenUTCConversion(t *testing.T) {
	// 05:45 UTC = 11:15 IST, inside the session.
	utc := time.Date(2026, 2, 2, 5, 45, 0, 0, time.UTC)
	if !IsMarketOpen(utc) {
		t.Error("expected open for 11:15 IST given in UTC")
	}
}

func TestTradingDaysBetween(t *testing.T) {
	// Mon 2 Feb through Fri 6 Feb, no holidays in between.
	if got := TradingDaysBetween(ist(2026, 2, 2, 0, 0), ist(2026, 2, 6, 0, 0)); got != 5 {
		t.Errorf("full week = %d, want 5", got)
	}
	// Across a weekend.
	if got := TradingDaysBetween(ist(2026, 2, 6, 0, 0), ist(2026, 2, 9, 0, 0)); got != 2 {
		t.Errorf("fri-mon = %d, want 2", got)
	}
	// Republic Day (Mon 26 Jan) is skipped.
	if got := TradingDaysBetween(ist(2026, 1, 23, 0, 0), ist(2026, 1, 27, 0, 0)); got != 2 {
		t.Errorf("across republic day = %d, want 2", got)
	}
	// Reversed range.
	if got := TradingDaysBetween(ist(2026, 2, 6, 0, 0), ist(2026, 2, 2, 0, 0)); got != 0 {
		t.Errorf("reversed = %d, want 0", got)
	}
}

func TestSessionFraction(t *testing.T) {
	if got := SessionFraction(ist(2026, 2, 2, 8, 0)); got != 1 {
		t.Errorf("pre-open fraction = %v, want 1", got)
	}
	if got := SessionFraction(ist(2026, 2, 2, 16, 0)); got != 0 {
		t.Errorf("post-close fraction = %v, want 0", got)
	}
	if got := SessionFraction(ist(2026, 2, 7, 11, 0)); got != 0 {
		t.Errorf("weekend fraction = %v, want 0", got)
	}
	got := SessionFraction(ist(2026, 2, 2, 12, 22))
	if got < 0.49 || got > 0.51 {
		t.Errorf("mid-session fraction = %v, want ~0.5", got)
	}
}

func TestNextOpen(t *testing.T) {
	// Friday evening rolls to Monday.
	next := NextOpen(ist(2026, 2, 6, 18, 0))
	want := ist(2026, 2, 9, 9, 15)
	if !next.Equal(want) {
		t.Errorf("NextOpen(fri evening) = %v, want %v", next, want)
	}
	// Early on a trading day returns today's open.
	next = NextOpen(ist(2026, 2, 2, 8, 0))
	want = ist(2026, 2, 2, 9, 15)
	if !next.Equal(want) {
		t.Errorf("NextOpen(early) = %v, want %v", next, want)
	}
}

func TestIsHoliday(t *testing.T) {
	if !IsHoliday(ist(2026, 1, 26, 12, 0)) {
		t.Error("republic day should be a holiday")
	}
	if IsHoliday(ist(2026, 2, 2, 12, 0)) {
		t.Error("regular monday is not a holiday")
	}
}
