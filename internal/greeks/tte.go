package greeks

import (
	"time"

	"marketcore/internal/markethours"
	"marketcore/internal/model"
)

// DayCount selects the time-to-expiry convention.
type DayCount int

const (
	// Calendar uses actual days over 365.
	Calendar DayCount = iota
	// TradingDays counts NSE trading days over 252 and scales the
	// current day by the remaining session fraction.
	TradingDays
)

// Expiry matching happens at the 3:30 PM IST close on expiry day.
const minTimeToExpiry = 0.0001

// TimeToExpiry returns the year fraction from now to the contract's
// expiry close, floored at a small positive value so same-day expiries
// still price.
func TimeToExpiry(expiry string, now time.Time, dc DayCount) (float64, error) {
	exp, err := model.ParseExpiry(expiry)
	if err != nil {
		return 0, err
	}
	expClose := time.Date(exp.Year(), exp.Month(), exp.Day(),
		markethours.CloseHour, markethours.CloseMinute, 0, 0, markethours.IST)
	ist := now.In(markethours.IST)
	if !expClose.After(ist) {
		return minTimeToExpiry, nil
	}

	var t float64
	switch dc {
	case TradingDays:
		days := float64(markethours.TradingDaysBetween(ist.AddDate(0, 0, 1), expClose))
		days += markethours.SessionFraction(ist)
		t = days / markethours.TradingDaysPerYear
	default:
		t = expClose.Sub(ist).Hours() / 24 / 365
	}
	if t < minTimeToExpiry {
		t = minTimeToExpiry
	}
	return t, nil
}
