package util

import (
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// TradingCalendar answers trading-day questions for the US equity market.
// Within the range of days loaded with SetTradingDays it follows that list
// exactly (so exchange holidays are skipped); outside it every weekday counts.
type TradingCalendar struct {
	loc   *time.Location
	days  map[string]struct{}
	first string
	last  string
}

// NewTradingCalendar creates a TradingCalendar evaluating dates in loc. A nil
// loc means America/New_York, falling back to UTC if the zone is unavailable.
func NewTradingCalendar(loc *time.Location) *TradingCalendar {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
	}
	return &TradingCalendar{
		loc:  loc,
		days: make(map[string]struct{}),
	}
}

// SetTradingDays replaces the known trading days. Each entry is formatted as
// 2006-01-02.
func (tc *TradingCalendar) SetTradingDays(days []string) {
	tc.days = make(map[string]struct{}, len(days))
	if len(days) == 0 {
		tc.first, tc.last = "", ""
		return
	}
	sorted := append([]string(nil), days...)
	sort.Strings(sorted)
	for _, d := range sorted {
		tc.days[d] = struct{}{}
	}
	tc.first = sorted[0]
	tc.last = sorted[len(sorted)-1]
}

// IsTradingDay returns whether the market trades on the date of t.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	local := t.In(tc.loc)
	d := local.Format(dateLayout)
	if len(tc.days) > 0 && d >= tc.first && d <= tc.last {
		_, ok := tc.days[d]
		return ok
	}
	wd := local.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// AddTradingDays returns t moved forward by n trading days, keeping the time
// of day. n <= 0 returns t unchanged.
func (tc *TradingCalendar) AddTradingDays(t time.Time, n int) time.Time {
	d := t
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if tc.IsTradingDay(d) {
			n--
		}
	}
	return d
}
