package greeks

import (
	"math"
	"testing"
	"time"

	"marketcore/internal/markethours"
)

func TestTimeToExpiryCalendar(t *testing.T) {
	// Exactly 73 days from midnight IST to the expiry close, minus
	// the open-to-close offset within the day.
	now := time.Date(2026, 1, 12, 15, 30, 0, 0, markethours.IST)
	got, err := TimeToExpiry("26Mar2026", now, Calendar)
	if err != nil {
		t.Fatal(err)
	}
	want := 73.0 / 365
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("TTE = %.8f, want %.8f", got, want)
	}
}

func TestTimeToExpiryTradingDays(t *testing.T) {
	// Mon 2 Feb 2026 at the close; Thu 5 Feb expiry. Tue, Wed, Thu
	// remain, today's session is over.
	now := time.Date(2026, 2, 2, 15, 30, 0, 0, markethours.IST)
	got, err := TimeToExpiry("05Feb2026", now, TradingDays)
	if err != nil {
		t.Fatal(err)
	}
	want := 3.0 / markethours.TradingDaysPerYear
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("TTE = %.8f, want %.8f", got, want)
	}
}

func TestTimeToExpiryIntradayFraction(t *testing.T) {
	// Halfway through Monday's session the current day counts 0.5.
	now := time.Date(2026, 2, 2, 12, 22, 30, 0, markethours.IST)
	got, err := TimeToExpiry("05Feb2026", now, TradingDays)
	if err != nil {
		t.Fatal(err)
	}
	want := 3.5 / markethours.TradingDaysPerYear
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("TTE = %.8f, want %.8f", got, want)
	}
}

func TestTimeToExpiryPastFloorsPositive(t *testing.T) {
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, markethours.IST)
	got, err := TimeToExpiry("29Jan2026", now, Calendar)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.0001 {
		t.Errorf("past expiry TTE = %v, want floor 0.0001", got)
	}
}

func TestTimeToExpiryBadFormat(t *testing.T) {
	now := time.Now()
	if _, err := TimeToExpiry("garbage", now, Calendar); err == nil {
		t.Error("want error for unparseable expiry")
	}
}
