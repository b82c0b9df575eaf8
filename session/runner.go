// Package session runs one agent's dashboard session: the periodic loops
// that drive the alarm engine and break tracker, and the commands issued
// against them.
//
// Every loop only posts events into a single queue. One consumer goroutine
// owns the engine and tracker and handles events and commands in order, so
// neither needs locking.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"break-scheduler/alarm"
	"break-scheduler/errors"
	"break-scheduler/metrics"
	"break-scheduler/models"
	"break-scheduler/shiftclock"
	"break-scheduler/tracker"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Store is the schedule store the session reads and writes through.
type Store interface {
	Fetch(ctx context.Context, agentID string) (*models.BreakSchedule, error)
	Update(ctx context.Context, agentID string, update models.ScheduleUpdate) (*models.BreakSchedule, error)
}

// Intervals are the periods of the session loops.
type Intervals struct {
	Schedule   time.Duration
	AlarmCheck time.Duration
	BreakPoll  time.Duration
	Display    time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		Schedule:   30 * time.Second,
		AlarmCheck: 5 * time.Second,
		BreakPoll:  5 * time.Second,
		Display:    time.Second,
	}
}

type Options struct {
	Intervals Intervals
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Location is the zone shift times are read in. Defaults to time.Local.
	Location *time.Location
	// QueueSize bounds pending loop ticks. Ticks beyond it are dropped.
	QueueSize int
}

const (
	loopSchedule = "schedule"
	loopAlarm    = "alarm"
	loopBreaks   = "breaks"
	loopDisplay  = "display"
)

type event struct {
	loop  string
	cmd   func(now time.Time) error
	reply chan error
}

// Runner owns an agent's alarm engine and break tracker.
type Runner struct {
	agent   models.Identity
	store   Store
	engine  *alarm.Engine
	tracker *tracker.Tracker
	opts    Options

	events  chan event
	stopped chan struct{}
	once    sync.Once

	// consumer-owned
	scheduleErr error
	breaksErr   error

	mu     sync.RWMutex
	status models.Status
}

func New(agent models.Identity, store Store, engine *alarm.Engine, tr *tracker.Tracker, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Runner{
		agent:   agent,
		store:   store,
		engine:  engine,
		tracker: tr,
		opts:    opts,
		events:  make(chan event, opts.QueueSize),
		stopped: make(chan struct{}),
		status: models.Status{
			Agent:      agent,
			AlarmState: models.AlarmIdle,
		},
	}
}

func (r *Runner) now() time.Time {
	return r.opts.Clock().In(r.opts.Location)
}

// Run starts the loops and the consumer and blocks until ctx is cancelled.
// Once Run returns no loop is running and no alarm can fire.
func (r *Runner) Run(ctx context.Context) error {
	defer r.once.Do(func() { close(r.stopped) })

	log.Info().
		Str("agentId", r.agent.AgentID).
		Dur("scheduleEvery", r.opts.Intervals.Schedule).
		Dur("alarmEvery", r.opts.Intervals.AlarmCheck).
		Dur("breaksEvery", r.opts.Intervals.BreakPoll).
		Msg("Session started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.consume(gctx)
		return nil
	})
	for loop, every := range map[string]time.Duration{
		loopSchedule: r.opts.Intervals.Schedule,
		loopAlarm:    r.opts.Intervals.AlarmCheck,
		loopBreaks:   r.opts.Intervals.BreakPoll,
		loopDisplay:  r.opts.Intervals.Display,
	} {
		loop, every := loop, every
		g.Go(func() error {
			r.tick(gctx, loop, every)
			return nil
		})
	}

	err := g.Wait()
	metrics.ResetSessionGauges()
	log.Info().Str("agentId", r.agent.AgentID).Msg("Session stopped")
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// tick posts a loop event every interval, starting immediately. A full
// queue drops the tick; the next one catches up.
func (r *Runner) tick(ctx context.Context, loop string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case r.events <- event{loop: loop}:
		case <-ctx.Done():
			return
		default:
			metrics.DroppedEventsTotal.WithLabelValues(loop).Inc()
			log.Debug().Str("loop", loop).Msg("Session queue full, tick dropped")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			now := r.now()
			if ev.cmd == nil {
				r.handle(ctx, ev.loop, now)
				r.publish(now)
				continue
			}
			err := ev.cmd(now)
			r.publish(now)
			ev.reply <- err
		}
	}
}

// handle runs one loop tick. A failing tick is logged and counted and never
// stops its loop.
func (r *Runner) handle(ctx context.Context, loop string, now time.Time) {
	start := time.Now()
	defer func() {
		metrics.LoopTicksTotal.WithLabelValues(loop).Inc()
		metrics.LoopDurationSeconds.WithLabelValues(loop).Observe(time.Since(start).Seconds())
	}()

	var err error
	switch loop {
	case loopSchedule:
		err = r.refreshSchedule(ctx, now)
	case loopAlarm:
		r.engine.Check(ctx, now)
	case loopBreaks:
		err = r.tracker.Refresh(ctx, now)
		r.breaksErr = err
		r.tracker.CheckBioWarning(ctx, now)
	case loopDisplay:
		r.tracker.CheckBioWarning(ctx, now)
	}
	if err == nil || ctx.Err() != nil {
		return
	}

	metrics.LoopErrorsTotal.WithLabelValues(loop).Inc()
	if errors.IsConnection(err) {
		log.Warn().Err(err).Str("loop", loop).Msg("Backend unreachable")
		return
	}
	log.Error().Err(err).Str("loop", loop).Msg("Session loop tick failed")
}

// refreshSchedule reloads the schedule. When it cannot be loaded the
// engine goes idle rather than alarm on a stale schedule.
func (r *Runner) refreshSchedule(ctx context.Context, now time.Time) error {
	schedule, err := r.store.Fetch(ctx, r.agent.AgentID)
	r.scheduleErr = err
	if err != nil {
		if ctx.Err() == nil {
			r.engine.ClearSchedule()
		}
		return err
	}
	r.apply(now, schedule)
	return nil
}

func (r *Runner) apply(now time.Time, schedule *models.BreakSchedule) {
	if current := r.engine.Schedule(); current == nil || *current != *schedule {
		r.engine.SetSchedule(now, schedule)
	} else {
		r.engine.Recompute(now)
	}
	r.tracker.SetSchedule(schedule)
}

func (r *Runner) publish(now time.Time) {
	next := r.engine.Next()
	if next != nil {
		next.MinutesUntil = int(next.FiresAt.Sub(now) / time.Minute)
	}
	status := models.Status{
		Agent:       r.agent,
		At:          now,
		InShift:     shiftclock.InShift(now),
		ShiftDate:   shiftclock.ShiftDay(now).Format(time.DateOnly),
		Schedule:    r.engine.Schedule(),
		AlarmState:  r.engine.State(),
		NextAlarm:   next,
		ActiveBreak: r.tracker.Countdown(now),
		NextBreak:   r.tracker.NextBreak(now),
		QuickStarts: r.tracker.QuickStarts(),
		Bio:         r.tracker.Bio(now),
		Offline:     errors.IsConnection(r.scheduleErr) || errors.IsConnection(r.breaksErr),
	}

	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

// Once loads the schedule and the ledger a single time and returns the
// resulting snapshot. It must not be called while Run is active.
func (r *Runner) Once(ctx context.Context) models.Status {
	now := r.now()
	r.handle(ctx, loopSchedule, now)
	r.handle(ctx, loopBreaks, now)
	r.publish(now)
	return r.Status()
}

// Status returns the latest snapshot. It is refreshed after every event,
// at least once per display interval.
func (r *Runner) Status() models.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// do runs fn on the consumer goroutine and waits for its result.
func (r *Runner) do(ctx context.Context, fn func(now time.Time) error) error {
	ev := event{cmd: fn, reply: make(chan error, 1)}
	select {
	case r.events <- ev:
	case <-r.stopped:
		return errors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.reply:
		return err
	case <-r.stopped:
		return errors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartBreak starts a break of the given type; BIO draws from the pool.
func (r *Runner) StartBreak(ctx context.Context, breakType models.BreakType) (*models.BreakSession, error) {
	var session *models.BreakSession
	err := r.do(ctx, func(now time.Time) error {
		var err error
		session, err = r.tracker.StartBreak(ctx, now, breakType)
		return err
	})
	return session, err
}

// EndBreak ends the running scheduled break.
func (r *Runner) EndBreak(ctx context.Context) (*models.BreakSession, error) {
	var session *models.BreakSession
	err := r.do(ctx, func(now time.Time) error {
		var err error
		session, err = r.tracker.EndBreak(ctx, now)
		return err
	})
	return session, err
}

func (r *Runner) StartBio(ctx context.Context) (*models.BreakSession, error) {
	var session *models.BreakSession
	err := r.do(ctx, func(now time.Time) error {
		var err error
		session, err = r.tracker.StartBio(ctx, now)
		return err
	})
	return session, err
}

// StopBio ends the running bio break and returns how long it ran.
func (r *Runner) StopBio(ctx context.Context) (time.Duration, error) {
	var used time.Duration
	err := r.do(ctx, func(now time.Time) error {
		var err error
		used, err = r.tracker.StopBio(ctx, now)
		return err
	})
	return used, err
}

// UpdateSchedule saves a schedule edit and re-seeds the engine and tracker
// with the stored result.
func (r *Runner) UpdateSchedule(ctx context.Context, update models.ScheduleUpdate) (*models.BreakSchedule, error) {
	var schedule *models.BreakSchedule
	err := r.do(ctx, func(now time.Time) error {
		var err error
		schedule, err = r.store.Update(ctx, r.agent.AgentID, update)
		if err != nil {
			return err
		}
		r.engine.SetSchedule(now, schedule)
		r.tracker.SetSchedule(schedule)
		log.Info().Str("agentId", r.agent.AgentID).Msg("Break schedule updated")
		return nil
	})
	return schedule, err
}

// SetAlarmEnabled toggles the alarm. It takes effect locally at once and is
// then saved; if saving fails the next schedule refresh restores the stored
// setting.
func (r *Runner) SetAlarmEnabled(ctx context.Context, enabled bool) error {
	return r.do(ctx, func(now time.Time) error {
		if r.engine.Schedule() == nil {
			return fmt.Errorf("set alarm: %w", errors.ErrNotFound)
		}
		r.engine.SetEnabled(now, enabled)
		schedule, err := r.store.Update(ctx, r.agent.AgentID, models.ScheduleUpdate{AlarmEnabled: &enabled})
		if err != nil {
			return err
		}
		r.apply(now, schedule)
		return nil
	})
}
