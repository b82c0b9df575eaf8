package models

import "time"

// EventKind identifies a scheduled point in the shift. The declaration order
// is the tie-break order when two events are equally near.
type EventKind int

const (
	EventFirst EventKind = iota
	EventSecond
	EventLunch
	EventEndOfShift
)

// EventKinds lists every kind in declaration order.
var EventKinds = []EventKind{EventFirst, EventSecond, EventLunch, EventEndOfShift}

func (k EventKind) String() string {
	switch k {
	case EventFirst:
		return "FIRST"
	case EventSecond:
		return "SECOND"
	case EventLunch:
		return "LUNCH"
	case EventEndOfShift:
		return "END_OF_SHIFT"
	}
	return "UNKNOWN"
}

// Label is the human-facing name used in notifications.
func (k EventKind) Label() string {
	switch k {
	case EventFirst:
		return "First Break"
	case EventSecond:
		return "Second Break"
	case EventLunch:
		return "Lunch"
	case EventEndOfShift:
		return "End of Shift"
	}
	return k.String()
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// BreakType returns the ledger break type matching the event, if any.
func (k EventKind) BreakType() (BreakType, bool) {
	switch k {
	case EventFirst:
		return BreakFirst, true
	case EventSecond:
		return BreakSecond, true
	case EventLunch:
		return BreakLunch, true
	}
	return "", false
}

// ScheduledEvent is one derived occurrence of a configured event.
type ScheduledEvent struct {
	Kind   EventKind `json:"kind"`
	Minute int       `json:"minuteOfDay"`
	// OccursOn is midnight of the calendar date the occurrence falls on.
	OccursOn time.Time     `json:"occursOn"`
	At       time.Time     `json:"at"`
	Until    time.Duration `json:"until"`
	// Projected marks a countdown estimate made outside the shift window;
	// At is not the occurrence's wall-clock instant and must not be fired on.
	Projected bool `json:"projected,omitempty"`
}

// MinutesUntil is Until in whole minutes, rounded down.
func (e ScheduledEvent) MinutesUntil() int {
	return int(e.Until / time.Minute)
}

// OccurrenceKey identifies a concrete occurrence of a recurring event.
type OccurrenceKey struct {
	Kind EventKind
	Date string // YYYY-MM-DD
}

func (e ScheduledEvent) Key() OccurrenceKey {
	return OccurrenceKey{Kind: e.Kind, Date: e.OccursOn.Format(time.DateOnly)}
}

// NextAlarm is the nearest alarm-eligible occurrence.
type NextAlarm struct {
	Event        ScheduledEvent `json:"event"`
	FiresAt      time.Time      `json:"firesAt"`
	MinutesUntil int            `json:"minutesUntil"`
}
