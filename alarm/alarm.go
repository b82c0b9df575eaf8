// Package alarm implements the one-shot break alarm state machine.
//
// An Engine is owned by a single goroutine; it does no locking of its own.
// Occurrences that already fired are remembered by (kind, date), so a
// coarse or jittery check loop can never fire the same break twice, while
// the same kind on a later date fires normally.
package alarm

import (
	"context"
	"fmt"
	"math"
	"time"

	"break-scheduler/metrics"
	"break-scheduler/models"
	"break-scheduler/shiftclock"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Notifier delivers the visual side of an alarm.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Player plays the alarm sound. Playback is best effort.
type Player interface {
	Play(ctx context.Context, volume int) error
}

// Options tunes the engine's timing.
type Options struct {
	// TriggerWindow is how far ahead of an occurrence a check may fire it.
	// It must exceed the check loop interval or alarms can be skipped.
	TriggerWindow time.Duration
	// Cooldown is how long the engine stays FIRING before re-deriving the
	// next alarm.
	Cooldown time.Duration
	// ReminderLead sends a "starts in N minutes" reminder this far ahead of
	// an occurrence. Zero disables reminders.
	ReminderLead time.Duration
	// IncludeEndOfShift makes END_OF_SHIFT alarm-eligible.
	IncludeEndOfShift bool
}

// DefaultOptions mirrors the dashboard's historical timing.
func DefaultOptions() Options {
	return Options{
		TriggerWindow: time.Minute,
		Cooldown:      2 * time.Minute,
		ReminderLead:  5 * time.Minute,
	}
}

// firedRetention bounds how long fired keys are remembered.
const firedRetention = 48 * time.Hour

// Engine decides when to fire break alarms for one agent.
type Engine struct {
	agent    models.Identity
	opts     Options
	notifier Notifier
	player   Player

	schedule      *models.BreakSchedule
	state         models.AlarmState
	next          *models.NextAlarm
	cooldownUntil time.Time
	fired         map[models.OccurrenceKey]time.Time
	reminded      map[models.OccurrenceKey]time.Time
}

// New creates an idle engine. A nil player disables sound.
func New(agent models.Identity, opts Options, notifier Notifier, player Player) *Engine {
	return &Engine{
		agent:    agent,
		opts:     opts,
		notifier: notifier,
		player:   player,
		state:    models.AlarmIdle,
		fired:    make(map[models.OccurrenceKey]time.Time),
		reminded: make(map[models.OccurrenceKey]time.Time),
	}
}

func (e *Engine) State() models.AlarmState { return e.state }

// Next returns the currently armed alarm, if any.
func (e *Engine) Next() *models.NextAlarm {
	if e.next == nil {
		return nil
	}
	n := *e.next
	return &n
}

// Schedule returns the engine's copy of the schedule, if any.
func (e *Engine) Schedule() *models.BreakSchedule {
	if e.schedule == nil {
		return nil
	}
	s := *e.schedule
	return &s
}

// Fired reports whether the occurrence has already fired.
func (e *Engine) Fired(key models.OccurrenceKey) bool {
	_, ok := e.fired[key]
	return ok
}

// SetSchedule installs a new or edited schedule. The cached next alarm is
// dropped. Fired occurrences whose instant moved into the future become
// eligible again; past ones stay fired.
func (e *Engine) SetSchedule(now time.Time, schedule *models.BreakSchedule) {
	if schedule == nil {
		e.ClearSchedule()
		return
	}
	s := *schedule
	e.reconcile(now, &s, e.fired)
	e.reconcile(now, &s, e.reminded)
	e.schedule = &s
	e.next = nil
	e.Recompute(now)
}

// ClearSchedule forgets the schedule and goes IDLE. Used when the schedule
// cannot be fetched: no alarm is better than a stale one.
func (e *Engine) ClearSchedule() {
	e.schedule = nil
	e.next = nil
	e.cooldownUntil = time.Time{}
	e.setState(models.AlarmIdle)
}

// SetEnabled toggles the alarm. Disabling forces IDLE immediately.
func (e *Engine) SetEnabled(now time.Time, enabled bool) {
	if e.schedule == nil {
		return
	}
	e.schedule.AlarmEnabled = enabled
	if !enabled {
		e.next = nil
		e.cooldownUntil = time.Time{}
		e.setState(models.AlarmIdle)
		return
	}
	e.Recompute(now)
}

// SetVolume changes the playback volume, 0-100.
func (e *Engine) SetVolume(volume int) {
	if e.schedule != nil {
		e.schedule.AlarmVolume = volume
	}
}

// Recompute re-derives the next alarm. While FIRING it waits for the
// cooldown to pass.
func (e *Engine) Recompute(now time.Time) {
	if e.schedule == nil || !e.schedule.AlarmEnabled {
		e.next = nil
		e.setState(models.AlarmIdle)
		return
	}
	if e.state == models.AlarmFiring && now.Before(e.cooldownUntil) {
		return
	}
	e.prune(now)

	e.next = shiftclock.NextAlarm(now, e.schedule, e.opts.IncludeEndOfShift)
	if e.next == nil {
		metrics.NextAlarmSeconds.Set(0)
		e.setState(models.AlarmIdle)
		return
	}
	metrics.NextAlarmSeconds.Set(e.next.FiresAt.Sub(now).Seconds())
	e.setState(models.AlarmArmed)
}

// Check evaluates the ARMED -> FIRING transition at now and reports whether
// an alarm fired.
func (e *Engine) Check(ctx context.Context, now time.Time) bool {
	if e.schedule == nil || !e.schedule.AlarmEnabled {
		e.next = nil
		e.setState(models.AlarmIdle)
		return false
	}
	if e.state == models.AlarmFiring {
		if now.Before(e.cooldownUntil) {
			return false
		}
		e.Recompute(now)
	}
	if e.next == nil || e.next.Event.Projected || now.After(e.next.FiresAt) {
		e.Recompute(now)
	}
	if e.next == nil || e.next.Event.Projected {
		return false
	}

	next := *e.next
	until := next.FiresAt.Sub(now)
	key := next.Event.Key()

	switch {
	case until >= 0 && until <= e.opts.TriggerWindow:
		if _, done := e.fired[key]; done {
			return false
		}
		e.fire(ctx, now, next)
		return true
	case e.opts.ReminderLead > 0 && until > e.opts.TriggerWindow && until <= e.opts.ReminderLead:
		if _, done := e.reminded[key]; !done {
			e.remind(ctx, now, next)
		}
	}
	return false
}

func (e *Engine) fire(ctx context.Context, now time.Time, next models.NextAlarm) {
	ev := next.Event
	e.fired[ev.Key()] = next.FiresAt
	e.cooldownUntil = now.Add(e.opts.Cooldown)
	e.setState(models.AlarmFiring)

	description := "Your scheduled break is starting now."
	if ev.Kind == models.EventEndOfShift {
		description = "Your shift is ending now."
	}
	e.deliver(ctx, models.Notification{
		ID:          uuid.NewString(),
		Kind:        models.NotifyAlarm,
		AgentID:     e.agent.AgentID,
		Title:       fmt.Sprintf("Time for %s!", ev.Kind.Label()),
		Description: description,
		Event:       &ev,
		At:          now,
	})

	if e.player != nil {
		if err := e.player.Play(ctx, e.schedule.AlarmVolume); err != nil {
			metrics.AlarmSoundFailuresTotal.Inc()
			log.Warn().Err(err).Str("agentId", e.agent.AgentID).Msg("Failed to play alarm sound")
		}
	}

	metrics.AlarmsFiredTotal.WithLabelValues(ev.Kind.String()).Inc()
	log.Info().
		Str("agentId", e.agent.AgentID).
		Str("kind", ev.Kind.String()).
		Time("occursAt", next.FiresAt).
		Msg("Break alarm fired")
}

func (e *Engine) remind(ctx context.Context, now time.Time, next models.NextAlarm) {
	ev := next.Event
	e.reminded[ev.Key()] = next.FiresAt

	minutes := int(math.Ceil(next.FiresAt.Sub(now).Minutes()))
	plural := "s"
	if minutes == 1 {
		plural = ""
	}
	e.deliver(ctx, models.Notification{
		ID:      uuid.NewString(),
		Kind:    models.NotifyReminder,
		AgentID: e.agent.AgentID,
		Title:   fmt.Sprintf("%s starts in %d minute%s!", ev.Kind.Label(), minutes, plural),
		Event:   &ev,
		At:      now,
	})
	metrics.RemindersTotal.WithLabelValues(ev.Kind.String()).Inc()
}

func (e *Engine) deliver(ctx context.Context, n models.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Error().Err(err).Str("notification", n.Title).Msg("Failed to deliver notification")
	}
}

// reconcile drops remembered occurrences that an edited schedule moved to
// a different, still-future instant.
func (e *Engine) reconcile(now time.Time, schedule *models.BreakSchedule, seen map[models.OccurrenceKey]time.Time) {
	for key, at := range seen {
		moved, ok := shiftclock.Occurrence(schedule, key, now.Location())
		if ok && !moved.Equal(at) && moved.After(now) {
			delete(seen, key)
		}
	}
}

func (e *Engine) prune(now time.Time) {
	cutoff := now.Add(-firedRetention)
	for key, at := range e.fired {
		if at.Before(cutoff) {
			delete(e.fired, key)
		}
	}
	for key, at := range e.reminded {
		if at.Before(cutoff) {
			delete(e.reminded, key)
		}
	}
}

func (e *Engine) setState(s models.AlarmState) {
	e.state = s
	metrics.AlarmState.Set(metrics.AlarmStateValue(string(s)))
}
