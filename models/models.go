package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"break-scheduler/errors"

	"github.com/goccy/go-json"
)

// MinutesPerDay is the length of a day in minutes-since-midnight space.
const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time with no date component, held as minutes
// since midnight. The zero value is unset.
type TimeOfDay struct {
	Minute int
	Valid  bool
}

// Clock builds a set TimeOfDay from an hour and minute.
func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay{Minute: hour*60 + minute, Valid: true}
}

// ParseTimeOfDay parses a 24-hour "HH:MM" string. An empty string yields
// an unset TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeOfDay{}, nil
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: %q (expected HH:MM)", errors.ErrInvalidTime, s)
	}
	hour, errH := strconv.Atoi(hh)
	min, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || hour < 0 || hour > 23 || min < 0 || min > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", errors.ErrInvalidTime, s)
	}
	return Clock(hour, min), nil
}

func (t TimeOfDay) Hour() int { return t.Minute / 60 }

// String returns "HH:MM", or "" when unset.
func (t TimeOfDay) String() string {
	if !t.Valid {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", t.Minute/60, t.Minute%60)
}

// On returns the instant at this time of day on the calendar date of day.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Minute/60, t.Minute%60, 0, 0, day.Location())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = TimeOfDay{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidTime, err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// BreakSchedule is an agent's configured break times and alarm preferences.
// Times are shift-relative; no calendar ordering is implied.
type BreakSchedule struct {
	AgentID      string    `json:"agentId"`
	FirstBreak   TimeOfDay `json:"firstBreak"`
	SecondBreak  TimeOfDay `json:"secondBreak"`
	LunchTime    TimeOfDay `json:"lunchTime"`
	EndOfShift   TimeOfDay `json:"endOfShift"`
	AlarmEnabled bool      `json:"alarmEnabled"`
	AlarmVolume  int       `json:"alarmVolume"`
}

// DefaultSchedule is what the backend creates on first write for an agent.
func DefaultSchedule(agentID string) *BreakSchedule {
	return &BreakSchedule{
		AgentID:      agentID,
		FirstBreak:   Clock(1, 0),
		SecondBreak:  Clock(3, 0),
		LunchTime:    Clock(5, 0),
		EndOfShift:   Clock(6, 30),
		AlarmEnabled: true,
		AlarmVolume:  100,
	}
}

// Time returns the configured time for an event kind.
func (s *BreakSchedule) Time(kind EventKind) TimeOfDay {
	switch kind {
	case EventFirst:
		return s.FirstBreak
	case EventSecond:
		return s.SecondBreak
	case EventLunch:
		return s.LunchTime
	case EventEndOfShift:
		return s.EndOfShift
	}
	return TimeOfDay{}
}

// Apply merges a partial update into a copy of the schedule.
func (s *BreakSchedule) Apply(u ScheduleUpdate) *BreakSchedule {
	out := *s
	if u.FirstBreak != nil {
		out.FirstBreak = *u.FirstBreak
	}
	if u.SecondBreak != nil {
		out.SecondBreak = *u.SecondBreak
	}
	if u.LunchTime != nil {
		out.LunchTime = *u.LunchTime
	}
	if u.EndOfShift != nil {
		out.EndOfShift = *u.EndOfShift
	}
	if u.AlarmEnabled != nil {
		out.AlarmEnabled = *u.AlarmEnabled
	}
	if u.AlarmVolume != nil {
		out.AlarmVolume = *u.AlarmVolume
	}
	return &out
}

// ScheduleUpdate is a partial BreakSchedule update; nil fields are left
// untouched. A non-nil unset SecondBreak clears it.
type ScheduleUpdate struct {
	FirstBreak   *TimeOfDay `json:"firstBreak,omitempty"`
	SecondBreak  *TimeOfDay `json:"secondBreak,omitempty"`
	LunchTime    *TimeOfDay `json:"lunchTime,omitempty"`
	EndOfShift   *TimeOfDay `json:"endOfShift,omitempty"`
	AlarmEnabled *bool      `json:"alarmEnabled,omitempty"`
	AlarmVolume  *int       `json:"alarmVolume,omitempty"`
}

// Validate checks field-level constraints of an update.
func (u ScheduleUpdate) Validate() error {
	if u.AlarmVolume != nil && (*u.AlarmVolume < 0 || *u.AlarmVolume > 100) {
		return fmt.Errorf("%w (got %d)", errors.ErrInvalidVolume, *u.AlarmVolume)
	}
	if u.FirstBreak != nil && !u.FirstBreak.Valid {
		return errors.ErrMissingFirstBreak
	}
	if u.LunchTime != nil && !u.LunchTime.Valid {
		return errors.ErrMissingLunch
	}
	return nil
}

// Identity is the agent a dashboard session acts for.
type Identity struct {
	AgentID   string `json:"agentId" yaml:"agent_id"`
	AgentName string `json:"agentName" yaml:"agent_name"`
}
