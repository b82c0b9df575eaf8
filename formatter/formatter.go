package formatter

import (
	"break-scheduler/models"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// StatusData holds prepared status data used by all formatters
type StatusData struct {
	Agent       string         `json:"agent"`
	AgentID     string         `json:"agent_id"`
	At          time.Time      `json:"at"`
	ShiftDate   string         `json:"shift_date"`
	InShift     bool           `json:"in_shift"`
	Offline     bool           `json:"offline"`
	AlarmState  string         `json:"alarm_state"`
	NextAlarm   *EventLine     `json:"next_alarm,omitempty"`
	Schedule    []ScheduleLine `json:"schedule"`
	ActiveBreak *ActiveLine    `json:"active_break,omitempty"`
	NextBreak   *EventLine     `json:"next_break,omitempty"`
	QuickStarts []string       `json:"quick_starts,omitempty"`
	Bio         BioLine        `json:"bio"`
}

// ScheduleLine is one configured slot of the schedule
type ScheduleLine struct {
	Event string `json:"event"`
	Time  string `json:"time"`
}

// EventLine is an upcoming event with its countdown
type EventLine struct {
	Event     string `json:"event"`
	Time      string `json:"time"`
	Until     string `json:"until"`
	Projected bool   `json:"projected,omitempty"`
}

// ActiveLine is the running break
type ActiveLine struct {
	Event     string `json:"-"`
	Break     string `json:"break"`
	Elapsed   string `json:"elapsed"`
	Remaining string `json:"remaining"`
	Overtime  bool   `json:"overtime,omitempty"`
}

// BioLine summarizes the bio-break pool
type BioLine struct {
	UsedMinutes      int    `json:"used_minutes"`
	TotalMinutes     int    `json:"total_minutes"`
	RemainingMinutes int    `json:"remaining_minutes"`
	Running          string `json:"running,omitempty"`
	CanStart         bool   `json:"can_start"`
}

// prepareStatusData flattens a status snapshot into display values
func prepareStatusData(status *models.Status) *StatusData {
	data := &StatusData{
		Agent:      status.Agent.AgentName,
		AgentID:    status.Agent.AgentID,
		At:         status.At,
		ShiftDate:  status.ShiftDate,
		InShift:    status.InShift,
		Offline:    status.Offline,
		AlarmState: string(status.AlarmState),
	}
	if data.Agent == "" {
		data.Agent = status.Agent.AgentID
	}

	if status.Schedule != nil {
		for _, kind := range models.EventKinds {
			t := status.Schedule.Time(kind)
			if !t.Valid {
				continue
			}
			data.Schedule = append(data.Schedule, ScheduleLine{Event: kind.Label(), Time: t.String()})
		}
	}

	if next := status.NextAlarm; next != nil {
		data.NextAlarm = eventLine(next.Event, next.FiresAt.Sub(status.At))
	}
	if next := status.NextBreak; next != nil {
		data.NextBreak = eventLine(*next, next.At.Sub(status.At))
	}

	if active := status.ActiveBreak; active != nil {
		kind, _ := active.Session.Type.EventKind()
		data.ActiveBreak = &ActiveLine{
			Event:     kind.Label(),
			Break:     active.Session.Type.Label(),
			Elapsed:   formatClock(active.Elapsed),
			Remaining: formatClock(active.Remaining),
			Overtime:  active.Overtime(),
		}
	}

	for _, bt := range status.QuickStarts {
		data.QuickStarts = append(data.QuickStarts, bt.Label())
	}

	pool := status.Bio.Pool
	data.Bio = BioLine{
		UsedMinutes:      int(pool.Used / time.Minute),
		TotalMinutes:     int(pool.Total / time.Minute),
		RemainingMinutes: int(pool.RemainingClamped() / time.Minute),
		CanStart:         status.Bio.CanStart,
	}
	if status.Bio.Active != nil {
		data.Bio.Running = formatClock(status.Bio.Elapsed)
	}

	return data
}

func eventLine(ev models.ScheduledEvent, until time.Duration) *EventLine {
	return &EventLine{
		Event:     ev.Kind.Label(),
		Time:      ev.At.Format("15:04"),
		Until:     formatTimeUntil(until),
		Projected: ev.Projected,
	}
}

// FormatText returns the text representation of the status
func FormatText(status *models.Status) string {
	data := prepareStatusData(status)
	var sb strings.Builder

	shift := "off shift"
	if data.InShift {
		shift = "in shift"
	}
	sb.WriteString(fmt.Sprintf("Agent: %s (%s)\n", data.Agent, data.AgentID))
	sb.WriteString(fmt.Sprintf("Shift: %s (%s)\n", data.ShiftDate, shift))

	if len(data.Schedule) == 0 {
		sb.WriteString("Schedule: none\n")
	} else {
		parts := make([]string, len(data.Schedule))
		for i, line := range data.Schedule {
			parts[i] = fmt.Sprintf("%s=%s", line.Event, line.Time)
		}
		sb.WriteString(fmt.Sprintf("Schedule: %s\n", strings.Join(parts, ", ")))
	}

	if data.NextAlarm != nil {
		sb.WriteString(fmt.Sprintf("Alarm: %s ; %s at %s in %s\n",
			data.AlarmState, data.NextAlarm.Event, data.NextAlarm.Time, data.NextAlarm.Until))
	} else {
		sb.WriteString(fmt.Sprintf("Alarm: %s ; No upcoming alarms\n", data.AlarmState))
	}

	switch {
	case data.ActiveBreak != nil:
		sb.WriteString(fmt.Sprintf("Active break: %s ; elapsed=%s, remaining=%s\n",
			data.ActiveBreak.Break, data.ActiveBreak.Elapsed, data.ActiveBreak.Remaining))
		if data.ActiveBreak.Overtime {
			sb.WriteString("  ⚠️  OVER TIME: break budget used up, end the break\n")
		}
	case data.NextBreak != nil:
		sb.WriteString(fmt.Sprintf("Next break: %s at %s in %s\n",
			data.NextBreak.Event, data.NextBreak.Time, data.NextBreak.Until))
	}
	if len(data.QuickStarts) > 0 {
		sb.WriteString(fmt.Sprintf("Quick start: %s\n", strings.Join(data.QuickStarts, ", ")))
	}

	sb.WriteString(fmt.Sprintf("Bio breaks: %d / %d minutes ; %s\n",
		data.Bio.UsedMinutes, data.Bio.TotalMinutes, bioRemaining(data.Bio.RemainingMinutes)))
	if data.Bio.Running != "" {
		sb.WriteString(fmt.Sprintf("  • bio break running for %s\n", data.Bio.Running))
	}

	if data.Offline {
		sb.WriteString("⚠️  OFFLINE: backend unreachable, showing last known state\n")
	}

	return sb.String()
}

// FormatJSON returns the JSON representation of the status
func FormatJSON(status *models.Status) string {
	data := prepareStatusData(status)
	jsonBytes, _ := json.MarshalIndent(data, "", "  ")
	return string(jsonBytes)
}

// FormatCSV returns the CSV representation of the status, one row per event
func FormatCSV(status *models.Status) string {
	data := prepareStatusData(status)
	var sb strings.Builder
	writer := csv.NewWriter(&sb)

	// Write header
	writer.Write([]string{"Event", "Time", "Next Alarm", "Until", "Active", "Elapsed", "Remaining"})

	for _, line := range data.Schedule {
		writeEventToCSV(writer, line, data)
	}
	writer.Write([]string{
		"Bio Breaks", "", "", "",
		yesNo(data.Bio.Running != ""),
		fmt.Sprintf("%dm", data.Bio.UsedMinutes),
		fmt.Sprintf("%dm", data.Bio.RemainingMinutes),
	})

	writer.Flush()
	return sb.String()
}

// writeEventToCSV writes a single schedule slot
func writeEventToCSV(writer *csv.Writer, line ScheduleLine, data *StatusData) {
	row := []string{line.Event, line.Time}

	if data.NextAlarm != nil && data.NextAlarm.Event == line.Event {
		row = append(row, "Yes", data.NextAlarm.Until)
	} else {
		row = append(row, "No", "")
	}

	if data.ActiveBreak != nil && data.ActiveBreak.Event == line.Event {
		row = append(row, "Yes", data.ActiveBreak.Elapsed, data.ActiveBreak.Remaining)
	} else {
		row = append(row, "No", "", "")
	}

	writer.Write(row)
}

// formatTimeUntil renders a countdown as "Xh Ym", "Ym" or "Now"
func formatTimeUntil(d time.Duration) string {
	if d <= 0 {
		return "Now"
	}
	minutes := int(d / time.Minute)
	if hours := minutes / 60; hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	}
	return fmt.Sprintf("%dm", minutes)
}

// formatClock renders a duration as MM:SS
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func bioRemaining(minutes int) string {
	if minutes > 0 {
		return fmt.Sprintf("%d minutes remaining", minutes)
	}
	return "No time remaining"
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
