package models

import (
	"fmt"
	"strings"
	"time"

	"break-scheduler/errors"
)

// BreakType is the ledger's break category.
type BreakType string

const (
	BreakFirst  BreakType = "FIRST"
	BreakSecond BreakType = "SECOND"
	BreakLunch  BreakType = "LUNCH"
	BreakBio    BreakType = "BIO"
)

// BioPoolTotal is the bio-break allotment per shift, shared across sessions.
const BioPoolTotal = 15 * time.Minute

// ParseBreakType accepts a break type name in any case.
func ParseBreakType(s string) (BreakType, error) {
	switch t := BreakType(strings.ToUpper(strings.TrimSpace(s))); t {
	case BreakFirst, BreakSecond, BreakLunch, BreakBio:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", errors.ErrInvalidBreakType, s)
}

// Scheduled reports whether the type is one of the fixed scheduled breaks.
func (t BreakType) Scheduled() bool {
	return t == BreakFirst || t == BreakSecond || t == BreakLunch
}

// Budget is the per-session duration allowed for a scheduled break.
// BIO has no per-session budget; it draws from the shift pool.
func (t BreakType) Budget() time.Duration {
	switch t {
	case BreakFirst, BreakSecond:
		return 15 * time.Minute
	case BreakLunch:
		return 30 * time.Minute
	}
	return 0
}

// EventKind returns the schedule slot backing a scheduled break.
func (t BreakType) EventKind() (EventKind, bool) {
	switch t {
	case BreakFirst:
		return EventFirst, true
	case BreakSecond:
		return EventSecond, true
	case BreakLunch:
		return EventLunch, true
	}
	return 0, false
}

func (t BreakType) Label() string {
	switch t {
	case BreakFirst:
		return "First Break"
	case BreakSecond:
		return "Second Break"
	case BreakLunch:
		return "Lunch Break"
	case BreakBio:
		return "Bio Break"
	}
	return string(t)
}

// BreakSession is one record in the backend's break ledger.
type BreakSession struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agentId"`
	Type      BreakType  `json:"type"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
}

// Active reports whether the session has not been ended.
func (b BreakSession) Active() bool { return b.EndTime == nil }

// Duration is the session length, measured to now while it is running.
func (b BreakSession) Duration(now time.Time) time.Duration {
	end := now
	if b.EndTime != nil {
		end = *b.EndTime
	}
	if d := end.Sub(b.StartTime); d > 0 {
		return d
	}
	return 0
}

// BioBreakPoolUsage is the ledger's own account of bio minutes used.
type BioBreakPoolUsage struct {
	Used float64 `json:"used"`
}

// TodayBreaks is the ledger response for an agent's current day.
type TodayBreaks struct {
	Breaks       []BreakSession    `json:"breaks"`
	BioBreakPool BioBreakPoolUsage `json:"bioBreakPool"`
}

// BioBreakPool is the derived shift allotment state.
type BioBreakPool struct {
	Total time.Duration `json:"total"`
	Used  time.Duration `json:"used"`
}

// Remaining is Total-Used, which may go negative while a session overruns.
func (p BioBreakPool) Remaining() time.Duration { return p.Total - p.Used }

// RemainingClamped floors Remaining at zero, as displayed and as used for
// start eligibility.
func (p BioBreakPool) RemainingClamped() time.Duration {
	if r := p.Remaining(); r > 0 {
		return r
	}
	return 0
}
