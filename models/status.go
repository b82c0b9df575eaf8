package models

import "time"

// AlarmState is the alarm engine's state machine position.
type AlarmState string

const (
	AlarmIdle   AlarmState = "IDLE"
	AlarmArmed  AlarmState = "ARMED"
	AlarmFiring AlarmState = "FIRING"
)

// BreakCountdown is the live view of a running scheduled break.
type BreakCountdown struct {
	Session   BreakSession  `json:"session"`
	Budget    time.Duration `json:"budget"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
}

// Overtime reports whether the break has used its whole budget.
func (c BreakCountdown) Overtime() bool { return c.Elapsed >= c.Budget }

// BioStatus is the live view of the bio-break pool.
type BioStatus struct {
	Pool     BioBreakPool  `json:"pool"`
	Active   *BreakSession `json:"active,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	CanStart bool          `json:"canStart"`
}

// Status is a point-in-time snapshot of one agent's dashboard session.
type Status struct {
	Agent       Identity        `json:"agent"`
	At          time.Time       `json:"at"`
	InShift     bool            `json:"inShift"`
	ShiftDate   string          `json:"shiftDate"`
	Schedule    *BreakSchedule  `json:"schedule,omitempty"`
	AlarmState  AlarmState      `json:"alarmState"`
	NextAlarm   *NextAlarm      `json:"nextAlarm,omitempty"`
	ActiveBreak *BreakCountdown `json:"activeBreak,omitempty"`
	NextBreak   *ScheduledEvent `json:"nextBreak,omitempty"`
	QuickStarts []BreakType     `json:"quickStarts,omitempty"`
	Bio         BioStatus       `json:"bio"`
	Offline     bool            `json:"offline"`
}

// NotificationKind classifies what a notification announces.
type NotificationKind string

const (
	NotifyAlarm      NotificationKind = "alarm"
	NotifyReminder   NotificationKind = "reminder"
	NotifyBioWarning NotificationKind = "bio_warning"
)

// Notification is the visual side effect of an alarm, reminder or warning.
type Notification struct {
	ID          string           `json:"id"`
	Kind        NotificationKind `json:"kind"`
	AgentID     string           `json:"agentId"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Event       *ScheduledEvent  `json:"event,omitempty"`
	At          time.Time        `json:"at"`
}
