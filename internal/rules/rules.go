// Package rules builds the ascending trigger-time sequences that scheduled
// events consume. A DateRule selects calendar days, a TimeRule places
// instants within each selected day, and Sequence composes the two into a
// lazy cursor over UTC times.
package rules

import (
	"time"

	"sched-systemv1/internal/markethours"
	"sched-systemv1/internal/schedule"
)

// A DateRule yields successive calendar days, ascending, as midnights in
// the rule's own zone. A returned iterator may be unbounded.
type DateRule interface {
	Name() string
	Days(from time.Time) func() (time.Time, bool)
}

// A TimeRule places zero or more instants within a single day. The day is
// a midnight produced by a DateRule; returned instants are UTC and ascending.
type TimeRule interface {
	Name() string
	Times(day time.Time) []time.Time
}

// Sequence composes a date rule and a time rule into a trigger-time cursor
// starting at the first instant not before from.
func Sequence(from time.Time, dr DateRule, tr TimeRule) schedule.TimeSequence {
	from = from.UTC()
	days := dr.Days(from)
	var pending []time.Time
	return func() (time.Time, bool) {
		for {
			if len(pending) > 0 {
				t := pending[0]
				pending = pending[1:]
				if t.Before(from) {
					continue
				}
				return t.UTC(), true
			}
			day, ok := days()
			if !ok {
				return time.Time{}, false
			}
			pending = tr.Times(day)
		}
	}
}

// ---- date rules ----

type everyDay struct{}

func (everyDay) Name() string { return "every-day" }

func (everyDay) Days(from time.Time) func() (time.Time, bool) {
	d := midnight(from.In(markethours.IST))
	return func() (time.Time, bool) {
		day := d
		d = d.AddDate(0, 0, 1)
		return day, true
	}
}

// EveryDay selects every calendar day, weekends and holidays included.
func EveryDay() DateRule { return everyDay{} }

type tradingDays struct{}

func (tradingDays) Name() string { return "trading-days" }

func (tradingDays) Days(from time.Time) func() (time.Time, bool) {
	d := midnight(from.In(markethours.IST))
	return func() (time.Time, bool) {
		for !markethours.IsTradingDay(d) {
			d = d.AddDate(0, 0, 1)
		}
		day := d
		d = d.AddDate(0, 0, 1)
		return day, true
	}
}

// TradingDays selects exchange trading days (weekdays minus holidays).
func TradingDays() DateRule { return tradingDays{} }

type weekStarts struct{}

func (weekStarts) Name() string { return "week-starts" }

func (weekStarts) Days(from time.Time) func() (time.Time, bool) {
	d := midnight(from.In(markethours.IST))
	first := true
	return func() (time.Time, bool) {
		for {
			if !first && d.Weekday() != time.Monday {
				d = d.AddDate(0, 0, 1)
				continue
			}
			first = false
			// First trading day of the week, skipping Monday holidays.
			for !markethours.IsTradingDay(d) {
				d = d.AddDate(0, 0, 1)
			}
			day := d
			// Resume from the following Monday.
			d = nextWeekday(day, time.Monday)
			return day, true
		}
	}
}

// WeekStarts selects the first trading day of each week. The week
// containing from contributes its first trading day on or after from.
func WeekStarts() DateRule { return weekStarts{} }

type monthStarts struct{}

func (monthStarts) Name() string { return "month-starts" }

func (monthStarts) Days(from time.Time) func() (time.Time, bool) {
	ist := from.In(markethours.IST)
	d := time.Date(ist.Year(), ist.Month(), 1, 0, 0, 0, 0, markethours.IST)
	lower := midnight(ist)
	return func() (time.Time, bool) {
		for {
			day := d
			for !markethours.IsTradingDay(day) {
				day = day.AddDate(0, 0, 1)
			}
			d = d.AddDate(0, 1, 0)
			if day.Before(lower) {
				continue
			}
			return day, true
		}
	}
}

// MonthStarts selects the first trading day of each month.
func MonthStarts() DateRule { return monthStarts{} }

type onDates struct{ dates []time.Time }

func (onDates) Name() string { return "on-dates" }

func (r onDates) Days(from time.Time) func() (time.Time, bool) {
	lower := midnight(from.In(markethours.IST))
	i := 0
	return func() (time.Time, bool) {
		for i < len(r.dates) {
			day := midnight(r.dates[i].In(markethours.IST))
			i++
			if day.Before(lower) {
				continue
			}
			return day, true
		}
		return time.Time{}, false
	}
}

// OnDates selects exactly the given days. Dates must be ascending.
func OnDates(dates ...time.Time) DateRule { return onDates{dates: dates} }

// ---- time rules ----

type atWallTime struct {
	hour, min int
	loc       *time.Location
}

func (atWallTime) Name() string { return "at" }

func (r atWallTime) Times(day time.Time) []time.Time {
	d := day.In(r.loc)
	return []time.Time{time.Date(d.Year(), d.Month(), d.Day(), r.hour, r.min, 0, 0, r.loc).UTC()}
}

// At places a single instant at the given wall-clock time in loc.
// A nil loc means UTC.
func At(hour, min int, loc *time.Location) TimeRule {
	if loc == nil {
		loc = time.UTC
	}
	return atWallTime{hour: hour, min: min, loc: loc}
}

type afterOpen struct{ offset time.Duration }

func (afterOpen) Name() string { return "after-open" }

func (r afterOpen) Times(day time.Time) []time.Time {
	return []time.Time{markethours.OpenOn(day).Add(r.offset).UTC()}
}

// AfterMarketOpen places one instant offset after the session open.
func AfterMarketOpen(offset time.Duration) TimeRule { return afterOpen{offset: offset} }

type beforeClose struct{ offset time.Duration }

func (beforeClose) Name() string { return "before-close" }

func (r beforeClose) Times(day time.Time) []time.Time {
	return []time.Time{markethours.CloseOn(day).Add(-r.offset).UTC()}
}

// BeforeMarketClose places one instant offset before the session close.
func BeforeMarketClose(offset time.Duration) TimeRule { return beforeClose{offset: offset} }

type everyInterval struct{ step time.Duration }

func (everyInterval) Name() string { return "every" }

func (r everyInterval) Times(day time.Time) []time.Time {
	open := markethours.OpenOn(day)
	cl := markethours.CloseOn(day)
	var out []time.Time
	for t := open; !t.After(cl); t = t.Add(r.step) {
		out = append(out, t.UTC())
	}
	return out
}

// EveryInterval places instants every step across the trading session,
// open and close inclusive.
func EveryInterval(step time.Duration) TimeRule { return everyInterval{step: step} }

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextWeekday(t time.Time, wd time.Weekday) time.Time {
	d := t.AddDate(0, 0, 1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
