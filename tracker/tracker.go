// Package tracker follows an agent's break ledger: which break is running,
// how much of its budget is left, and how much of the shift's bio-break
// pool has been used.
package tracker

import (
	"context"
	"fmt"
	"time"

	"break-scheduler/errors"
	"break-scheduler/metrics"
	"break-scheduler/models"
	"break-scheduler/shiftclock"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ledger is the backend's break ledger.
type Ledger interface {
	StartBreak(ctx context.Context, agentID string, breakType models.BreakType) (*models.BreakSession, error)
	EndBreak(ctx context.Context, breakID string) (*models.BreakSession, error)
	TodayBreaks(ctx context.Context, agentID string) (*models.TodayBreaks, error)
}

// Notifier receives bio-pool warnings.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Options tunes the bio-break pool.
type Options struct {
	BioPool time.Duration
	// BioWarning is the remaining pool at which a running bio break warns once.
	BioWarning time.Duration
}

func DefaultOptions() Options {
	return Options{BioPool: models.BioPoolTotal, BioWarning: 3 * time.Minute}
}

// Tracker is owned by a single goroutine and does no locking.
type Tracker struct {
	agent    models.Identity
	ledger   Ledger
	notifier Notifier
	opts     Options

	schedule *models.BreakSchedule
	breaks   []models.BreakSession
	poolUsed time.Duration

	active      *models.BreakSession
	activeStart time.Time
	bio         *models.BreakSession
	bioStart    time.Time
	warned      map[string]bool
}

func New(agent models.Identity, ledger Ledger, notifier Notifier, opts Options) *Tracker {
	return &Tracker{
		agent:    agent,
		ledger:   ledger,
		notifier: notifier,
		opts:     opts,
		warned:   make(map[string]bool),
	}
}

// SelectActive returns the first open scheduled break and how many open
// scheduled breaks the ledger holds. More than one is a backend invariant
// violation; the first is used.
func SelectActive(breaks []models.BreakSession) (*models.BreakSession, int) {
	var first *models.BreakSession
	open := 0
	for i := range breaks {
		if breaks[i].Active() && breaks[i].Type.Scheduled() {
			open++
			if first == nil {
				b := breaks[i]
				first = &b
			}
		}
	}
	return first, open
}

func selectBio(breaks []models.BreakSession) *models.BreakSession {
	for i := range breaks {
		if breaks[i].Active() && breaks[i].Type == models.BreakBio {
			b := breaks[i]
			return &b
		}
	}
	return nil
}

// SetSchedule provides the schedule used for quick starts and the
// next-break countdown.
func (t *Tracker) SetSchedule(schedule *models.BreakSchedule) {
	if schedule == nil {
		t.schedule = nil
		return
	}
	s := *schedule
	t.schedule = &s
}

// Refresh polls the ledger. On failure the previous state is kept.
func (t *Tracker) Refresh(ctx context.Context, now time.Time) error {
	today, err := t.ledger.TodayBreaks(ctx, t.agent.AgentID)
	if err != nil {
		return fmt.Errorf("load today's breaks: %w", err)
	}
	t.apply(today, now)
	return nil
}

func (t *Tracker) apply(today *models.TodayBreaks, now time.Time) {
	t.breaks = today.Breaks
	t.poolUsed = time.Duration(today.BioBreakPool.Used * float64(time.Minute))

	active, open := SelectActive(today.Breaks)
	if open > 1 {
		metrics.MultipleActiveBreaksTotal.Inc()
		log.Warn().
			Str("agentId", t.agent.AgentID).
			Int("openBreaks", open).
			Str("using", active.ID).
			Msg("Ledger has more than one open break")
	}
	if active == nil || t.active == nil || active.ID != t.active.ID {
		t.activeStart = localStart(active, now)
	}
	t.active = active

	bio := selectBio(today.Breaks)
	if bio == nil || t.bio == nil || bio.ID != t.bio.ID {
		t.bioStart = localStart(bio, now)
	}
	t.bio = bio
}

// localStart caches a session's start for local elapsed-time ticks. A
// server start ahead of the local clock is clamped to now.
func localStart(b *models.BreakSession, now time.Time) time.Time {
	if b == nil {
		return time.Time{}
	}
	if b.StartTime.IsZero() || b.StartTime.After(now) {
		return now
	}
	return b.StartTime
}

// Active returns the running scheduled break, if any.
func (t *Tracker) Active() *models.BreakSession {
	if t.active == nil {
		return nil
	}
	b := *t.active
	return &b
}

// Countdown returns the running break's elapsed and remaining time. The
// remaining time stops at zero; the break is only ended explicitly.
func (t *Tracker) Countdown(now time.Time) *models.BreakCountdown {
	if t.active == nil {
		return nil
	}
	budget := t.active.Type.Budget()
	elapsed := now.Sub(t.activeStart)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := budget - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return &models.BreakCountdown{
		Session:   *t.active,
		Budget:    budget,
		Elapsed:   elapsed,
		Remaining: remaining,
	}
}

// BioPool sums every bio session of the day, the running one measured to
// now. The ledger's own count is a floor for the ended sessions.
func (t *Tracker) BioPool(now time.Time) models.BioBreakPool {
	var ended time.Duration
	for _, b := range t.breaks {
		if b.Type == models.BreakBio && !b.Active() {
			ended += b.Duration(now)
		}
	}
	if t.poolUsed > ended {
		ended = t.poolUsed
	}
	return models.BioBreakPool{
		Total: t.opts.BioPool,
		Used:  ended + t.bioElapsed(now),
	}
}

func (t *Tracker) bioElapsed(now time.Time) time.Duration {
	if t.bio == nil {
		return 0
	}
	if d := now.Sub(t.bioStart); d > 0 {
		return d
	}
	return 0
}

// Bio returns the bio-break view. A new bio break may start only while the
// pool has time left; a running one is never cut short.
func (t *Tracker) Bio(now time.Time) models.BioStatus {
	pool := t.BioPool(now)
	metrics.BioPoolRemainingSeconds.Set(pool.RemainingClamped().Seconds())

	status := models.BioStatus{
		Pool:     pool,
		Elapsed:  t.bioElapsed(now),
		CanStart: t.bio == nil && pool.Remaining() > 0,
	}
	if t.bio != nil {
		b := *t.bio
		status.Active = &b
	}
	return status
}

// CheckBioWarning warns once per running bio session when the pool is
// nearly used up.
func (t *Tracker) CheckBioWarning(ctx context.Context, now time.Time) bool {
	if t.bio == nil || t.opts.BioWarning <= 0 || t.warned[t.bio.ID] {
		return false
	}
	remaining := t.BioPool(now).RemainingClamped()
	if remaining > t.opts.BioWarning {
		return false
	}
	t.warned[t.bio.ID] = true

	title := fmt.Sprintf("Bio break: %d minutes remaining in your %d-minute pool!",
		int(remaining/time.Minute), int(t.opts.BioPool/time.Minute))
	if remaining == 0 {
		title = "Bio break: no time remaining in your pool"
	}
	if t.notifier != nil {
		err := t.notifier.Notify(ctx, models.Notification{
			ID:      uuid.NewString(),
			Kind:    models.NotifyBioWarning,
			AgentID: t.agent.AgentID,
			Title:   title,
			At:      now,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to deliver bio break warning")
		}
	}
	return true
}

// QuickStarts lists the scheduled breaks that can be started right now:
// none while one is running, otherwise those configured in the schedule.
func (t *Tracker) QuickStarts() []models.BreakType {
	if t.active != nil || t.schedule == nil {
		return nil
	}
	var out []models.BreakType
	for _, bt := range []models.BreakType{models.BreakFirst, models.BreakSecond, models.BreakLunch} {
		kind, _ := bt.EventKind()
		if t.schedule.Time(kind).Valid {
			out = append(out, bt)
		}
	}
	return out
}

// NextBreak is the upcoming scheduled break while no break is running.
func (t *Tracker) NextBreak(now time.Time) *models.ScheduledEvent {
	if t.active != nil {
		return nil
	}
	return shiftclock.NextBreak(now, t.schedule)
}

// StartBreak starts a scheduled break, or a bio break for BreakBio.
func (t *Tracker) StartBreak(ctx context.Context, now time.Time, breakType models.BreakType) (*models.BreakSession, error) {
	if breakType == models.BreakBio {
		return t.StartBio(ctx, now)
	}
	if !breakType.Scheduled() {
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidBreakType, breakType)
	}
	if t.active != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrBreakAlreadyActive, t.active.Type.Label())
	}
	if kind, _ := breakType.EventKind(); t.schedule != nil && !t.schedule.Time(kind).Valid {
		return nil, fmt.Errorf("%w: %s", errors.ErrBreakNotConfigured, breakType.Label())
	}

	session, err := t.ledger.StartBreak(ctx, t.agent.AgentID, breakType)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", breakType.Label(), err)
	}
	t.active = session
	t.activeStart = localStart(session, now)
	t.refreshAfterWrite(ctx, now)

	log.Info().Str("agentId", t.agent.AgentID).Str("type", string(breakType)).Msg("Break started")
	return session, nil
}

// EndBreak ends the running scheduled break.
func (t *Tracker) EndBreak(ctx context.Context, now time.Time) (*models.BreakSession, error) {
	if t.active == nil {
		return nil, errors.ErrNoActiveBreak
	}
	session, err := t.ledger.EndBreak(ctx, t.active.ID)
	if err != nil {
		return nil, fmt.Errorf("end %s: %w", t.active.Type.Label(), err)
	}
	t.active = nil
	t.activeStart = time.Time{}
	t.refreshAfterWrite(ctx, now)

	log.Info().Str("agentId", t.agent.AgentID).Str("type", string(session.Type)).Msg("Break ended")
	return session, nil
}

// StartBio starts a bio break if the pool has time left.
func (t *Tracker) StartBio(ctx context.Context, now time.Time) (*models.BreakSession, error) {
	if t.bio != nil {
		return nil, errors.ErrBioAlreadyActive
	}
	if t.BioPool(now).Remaining() <= 0 {
		return nil, errors.ErrBioPoolExhausted
	}
	session, err := t.ledger.StartBreak(ctx, t.agent.AgentID, models.BreakBio)
	if err != nil {
		return nil, fmt.Errorf("start bio break: %w", err)
	}
	t.bio = session
	t.bioStart = localStart(session, now)
	t.refreshAfterWrite(ctx, now)

	log.Info().Str("agentId", t.agent.AgentID).Msg("Bio break started")
	return session, nil
}

// StopBio ends the running bio break and returns how long it ran.
func (t *Tracker) StopBio(ctx context.Context, now time.Time) (time.Duration, error) {
	if t.bio == nil {
		return 0, errors.ErrNoActiveBreak
	}
	used := t.bioElapsed(now)
	if _, err := t.ledger.EndBreak(ctx, t.bio.ID); err != nil {
		return 0, fmt.Errorf("end bio break: %w", err)
	}
	t.bio = nil
	t.bioStart = time.Time{}
	t.refreshAfterWrite(ctx, now)

	log.Info().Str("agentId", t.agent.AgentID).Dur("used", used).Msg("Bio break ended")
	return used, nil
}

func (t *Tracker) refreshAfterWrite(ctx context.Context, now time.Time) {
	if err := t.Refresh(ctx, now); err != nil {
		log.Warn().Err(err).Msg("Refresh after break change failed, next poll will catch up")
	}
}
