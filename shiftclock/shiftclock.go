// Package shiftclock derives upcoming break events from a BreakSchedule and
// the wall clock, over the fixed overnight shift window.
package shiftclock

import (
	"time"

	"break-scheduler/models"
)

const (
	// ShiftStart is 21:30 in minutes since midnight.
	ShiftStart = 21*60 + 30
	// ShiftEnd is 06:30 the next morning in minutes since midnight.
	ShiftEnd = 6*60 + 30
)

var (
	breakKinds = []models.EventKind{models.EventFirst, models.EventSecond, models.EventLunch}
	alarmKinds = breakKinds
)

// MinuteOfDay returns the wall-clock minute of t, 0-1439.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// InShift reports whether now falls inside the 21:30-06:30 window.
func InShift(now time.Time) bool {
	n := MinuteOfDay(now)
	return n >= ShiftStart || n < ShiftEnd
}

// ShiftDay returns midnight of the calendar day the shift containing now
// started on. Minutes before ShiftEnd belong to the previous evening's shift.
func ShiftDay(now time.Time) time.Time {
	day := midnight(now)
	if MinuteOfDay(now) < ShiftEnd {
		return day.AddDate(0, 0, -1)
	}
	return day
}

// NextEvent returns the nearest future occurrence among all configured
// events, or nil when the schedule has no first break.
func NextEvent(now time.Time, schedule *models.BreakSchedule) *models.ScheduledEvent {
	return nearest(now, schedule, models.EventKinds)
}

// NextBreak is NextEvent restricted to the scheduled break kinds.
func NextBreak(now time.Time, schedule *models.BreakSchedule) *models.ScheduledEvent {
	return nearest(now, schedule, breakKinds)
}

// NextAlarm returns the nearest alarm-eligible occurrence. END_OF_SHIFT is
// only eligible when includeEndOfShift is set.
func NextAlarm(now time.Time, schedule *models.BreakSchedule, includeEndOfShift bool) *models.NextAlarm {
	kinds := alarmKinds
	if includeEndOfShift {
		kinds = models.EventKinds
	}
	ev := nearest(now, schedule, kinds)
	if ev == nil {
		return nil
	}
	return &models.NextAlarm{
		Event:        *ev,
		FiresAt:      ev.At,
		MinutesUntil: ev.MinutesUntil(),
	}
}

// Occurrence returns the wall-clock instant of an occurrence under the given
// schedule, in loc. ok is false when the kind is not configured.
func Occurrence(schedule *models.BreakSchedule, key models.OccurrenceKey, loc *time.Location) (at time.Time, ok bool) {
	t := schedule.Time(key.Kind)
	if !t.Valid {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(time.DateOnly, key.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.On(day), true
}

func nearest(now time.Time, schedule *models.BreakSchedule, kinds []models.EventKind) *models.ScheduledEvent {
	if schedule == nil || !schedule.FirstBreak.Valid {
		return nil
	}
	var best *models.ScheduledEvent
	for _, kind := range kinds {
		t := schedule.Time(kind)
		if !t.Valid {
			continue
		}
		ev := occurrenceAfter(now, kind, t)
		if ev.Until <= 0 {
			continue
		}
		// strict comparison keeps the earlier-declared kind on ties
		if best == nil || ev.Until < best.Until {
			best = &ev
		}
	}
	return best
}

func occurrenceAfter(now time.Time, kind models.EventKind, t models.TimeOfDay) models.ScheduledEvent {
	n := MinuteOfDay(now)
	today := midnight(now)

	var at time.Time
	projected := false
	switch {
	case n >= ShiftStart:
		// pre-midnight: every event is after the coming midnight
		at = t.On(today.AddDate(0, 0, 1))
	case n < ShiftEnd:
		if t.Minute > n {
			at = t.On(today)
		} else {
			at = t.On(today.AddDate(0, 0, 1))
		}
	default:
		// outside the window the countdown runs to shift start plus the
		// event's minute value
		at = models.Clock(0, ShiftStart).On(today).Add(time.Duration(t.Minute) * time.Minute)
		projected = true
	}

	return models.ScheduledEvent{
		Kind:      kind,
		Minute:    t.Minute,
		OccursOn:  midnight(at),
		At:        at,
		Until:     at.Sub(now),
		Projected: projected,
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
