// Package markethours knows NSE trading sessions: IST market hours, weekends
// and exchange holidays. Used by the analytics engine for trading-day
// time-to-expiry and by the application root for session-aware logging.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// TradingDaysPerYear is the convention used for trading-day year fractions.
const TradingDaysPerYear = 252.0

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// TradingDaysBetween counts trading days in [start, end], inclusive.
func TradingDaysBetween(start, end time.Time) int {
	s := start.In(IST)
	e := end.In(IST)
	if e.Before(s) {
		return 0
	}
	count := 0
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			count++
		}
	}
	return count
}

// SessionFraction returns how much of today's trading session remains as a
// fraction of a full session, 0 when the market is closed for the day and 1
// before the open on a trading day.
func SessionFraction(t time.Time) float64 {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return 0
	}
	open := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	close := time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
	if !ist.Before(close) {
		return 0
	}
	if ist.Before(open) {
		return 1
	}
	return close.Sub(ist).Seconds() / close.Sub(open).Seconds()
}

// TodayClose returns today's market close time (3:30 PM IST).
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// NextOpen returns the next market open time (9:15 AM IST on the next
// trading day), or today's open if t is before it on a trading day.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	todayOpen := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if ist.Before(todayOpen) && IsTradingDay(ist) {
		return todayOpen
	}
	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, IST)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(ist.Year(), ist.Month(), ist.Day()+1, OpenHour, OpenMinute, 0, 0, IST)
}

// StatusString returns a human-readable market status for startup logs.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := TodayClose(t).Sub(t.In(IST))
		return fmt.Sprintf("market open — closes in %s", fmtDur(d))
	}
	next := NextOpen(t)
	return fmt.Sprintf("market closed — opens %s %s",
		next.Weekday().String()[:3], next.Format("15:04"))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
