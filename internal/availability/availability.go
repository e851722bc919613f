// Package availability computes per-day booking status from business hours
// and a read-only snapshot of existing reservations. It is side-effect free:
// everything is a function of (hours, snapshot, now).
package availability

import (
	"strconv"
	"strings"
	"time"
)

// Status is the engine's answer for a single date.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusLimited     Status = "limited"
	StatusUnavailable Status = "unavailable"
)

// DayStatus is the backend aggregate for a day with existing reservations.
// "full" means capacity is exhausted and always maps to StatusUnavailable.
type DayStatus string

const (
	DayAvailable DayStatus = "available"
	DayLimited   DayStatus = "limited"
	DayFull      DayStatus = "full"
)

// DayLayout is the day-key format used everywhere a date becomes a map key.
const DayLayout = "2006-01-02"

// Slot is a single bookable window in wall-clock HH:MM.
type Slot struct {
	Start string
	End   string
}

// DaySchedule describes one weekday. Slot is ignored when Enabled is false.
type DaySchedule struct {
	Enabled bool
	Slot    Slot
}

// BusinessHours maps lowercase weekday names ("sunday".."saturday") to their
// schedule. Days without an entry are closed.
type BusinessHours map[string]DaySchedule

// Snapshot maps day keys to the backend aggregate status for that day.
type Snapshot map[string]DayStatus

// Engine resolves availability in exactly one reporting timezone. Weekday
// lookup, day keys and the "has today's last slot passed" comparison must all
// use the same location or results shift by a day near midnight.
type Engine struct {
	loc  *time.Location
	now  func() time.Time
	scan int
}

const defaultScanCapDays = 90

// Option tweaks an Engine; used mainly by tests to pin the clock.
type Option func(*Engine)

func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithScanCap(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.scan = days
		}
	}
}

func NewEngine(loc *time.Location, opts ...Option) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{loc: loc, now: time.Now, scan: defaultScanCapDays}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the engine's reporting timezone.
func (e *Engine) Location() *time.Location { return e.loc }

// DayKey formats t as a day key in the reporting timezone.
func (e *Engine) DayKey(t time.Time) string {
	return t.In(e.loc).Format(DayLayout)
}

// Today returns the current day key in the reporting timezone.
func (e *Engine) Today() string { return e.DayKey(e.now()) }

// ParseDay parses a day key in the reporting timezone.
func (e *Engine) ParseDay(day string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, day, e.loc)
}

// WeekdayName returns the lowercase weekday name used as a BusinessHours key.
func WeekdayName(t time.Time) string {
	return weekdayName(t.Weekday())
}

// DateAvailability resolves the booking status of a single day key
// ("YYYY-MM-DD"). Anything the engine cannot interpret degrades to
// StatusUnavailable rather than erroring: bad day strings, missing hours,
// closed weekdays and days with no snapshot entry are all not bookable.
func (e *Engine) DateAvailability(day string, hours BusinessHours, snap Snapshot) Status {
	date, err := time.ParseInLocation(DayLayout, day, e.loc)
	if err != nil || len(hours) == 0 {
		return StatusUnavailable
	}

	sched, ok := hours[weekdayName(date.Weekday())]
	if !ok || !sched.Enabled {
		return StatusUnavailable
	}
	endMin, ok := ParseMinutes(sched.Slot.End)
	if !ok {
		return StatusUnavailable
	}

	now := e.now().In(e.loc)
	if day == now.Format(DayLayout) {
		if now.Hour()*60+now.Minute() >= endMin {
			// Last slot of today has passed; backend capacity is moot.
			return StatusUnavailable
		}
	}

	switch snap[day] {
	case DayAvailable:
		return StatusAvailable
	case DayLimited:
		return StatusLimited
	default:
		// Unknown days are not bookable.
		return StatusUnavailable
	}
}

// EarliestAvailableDate scans day by day from minDay (inclusive) looking for
// the first available or limited date. The scan stops at maxDay (inclusive,
// when non-empty) or after the engine's scan cap, whichever comes first.
// Returns ("", false) when nothing in the window is bookable.
func (e *Engine) EarliestAvailableDate(minDay, maxDay string, hours BusinessHours, snap Snapshot) (string, bool) {
	date, err := time.ParseInLocation(DayLayout, minDay, e.loc)
	if err != nil {
		return "", false
	}
	var max time.Time
	if maxDay != "" {
		max, err = time.ParseInLocation(DayLayout, maxDay, e.loc)
		if err != nil {
			return "", false
		}
	}

	for i := 0; i < e.scan; i++ {
		if !max.IsZero() && date.After(max) {
			break
		}
		day := date.Format(DayLayout)
		switch e.DateAvailability(day, hours, snap) {
		case StatusAvailable, StatusLimited:
			return day, true
		}
		date = date.AddDate(0, 0, 1)
	}
	return "", false
}

// BuildSnapshot aggregates per-day reservation counts into day statuses for
// every day from fromDay through toDay. Days absent from counts have zero
// reservations. limitedAt <= 0 disables the limited band.
func (e *Engine) BuildSnapshot(fromDay, toDay string, counts map[string]int, capacity, limitedAt int) Snapshot {
	from, err := time.ParseInLocation(DayLayout, fromDay, e.loc)
	if err != nil {
		return Snapshot{}
	}
	to, err := time.ParseInLocation(DayLayout, toDay, e.loc)
	if err != nil || to.Before(from) {
		return Snapshot{}
	}

	snap := make(Snapshot)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := d.Format(DayLayout)
		n := counts[day]
		switch {
		case capacity > 0 && n >= capacity:
			snap[day] = DayFull
		case limitedAt > 0 && n >= limitedAt:
			snap[day] = DayLimited
		default:
			snap[day] = DayAvailable
		}
	}
	return snap
}

func weekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// ParseMinutes converts "HH:MM" to minutes since midnight.
func ParseMinutes(s string) (int, bool) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, false
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}
