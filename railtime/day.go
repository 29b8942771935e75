package railtime

import (
	"time"
	_ "time/tzdata"
)

// Railway operations are timed in UK local time.
var London = mustLoad("Europe/London")

// Hour at which one railway day hands over to the next.
const RolloverHour = 2

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Midnight (London) of the calendar date t falls on.
func Date(t time.Time) time.Time {
	l := t.In(London)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, London)
}

// The railway day t belongs to. A railway day runs from 02:00 to 01:59
// the following calendar day, so anything before 02:00 belongs to the
// previous day.
func RailwayDate(t time.Time) time.Time {
	l := t.In(London)
	d := Date(l)
	if l.Hour() < RolloverHour {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// True during the minute the railway day rolls over.
func IsRolloverTime(t time.Time) bool {
	l := t.In(London)
	return l.Hour() == RolloverHour && l.Minute() == 0
}

// Dates are exchanged with storage as YYYYMMDD.
func FormatDate(t time.Time) string {
	return t.In(London).Format("20060102")
}

func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation("20060102", s, London)
}

// Index of t's weekday in a Monday-first days-run mask.
func WeekdayIndex(t time.Time) int {
	return (int(t.In(London).Weekday()) + 6) % 7
}
