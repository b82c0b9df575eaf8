package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"break-scheduler/alarm"
	customerrors "break-scheduler/errors"
	"break-scheduler/models"
	"break-scheduler/session"
	"break-scheduler/tracker"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var agent = models.Identity{AgentID: "agent-1", AgentName: "Dana"}

var firstBreakAt = time.Date(2025, time.March, 11, 1, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeStore struct {
	mu       sync.Mutex
	schedule *models.BreakSchedule
	err      error
}

func (s *fakeStore) Fetch(context.Context, string) (*models.BreakSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := *s.schedule
	return &out, nil
}

func (s *fakeStore) Update(_ context.Context, _ string, u models.ScheduleUpdate) (*models.BreakSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.schedule = s.schedule.Apply(u)
	out := *s.schedule
	return &out, nil
}

func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type fakeLedger struct {
	mu     sync.Mutex
	clock  *clock
	breaks []models.BreakSession
}

func (l *fakeLedger) StartBreak(_ context.Context, agentID string, bt models.BreakType) (*models.BreakSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := models.BreakSession{ID: uuid.NewString(), AgentID: agentID, Type: bt, StartTime: l.clock.Now()}
	l.breaks = append(l.breaks, b)
	return &b, nil
}

func (l *fakeLedger) EndBreak(_ context.Context, id string) (*models.BreakSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.breaks {
		if l.breaks[i].ID == id {
			end := l.clock.Now()
			l.breaks[i].EndTime = &end
			b := l.breaks[i]
			return &b, nil
		}
	}
	return nil, &customerrors.APIError{Op: "end_break", Status: 404}
}

func (l *fakeLedger) TodayBreaks(context.Context, string) (*models.TodayBreaks, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.BreakSession, len(l.breaks))
	copy(out, l.breaks)
	return &models.TodayBreaks{Breaks: out}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) count(kind models.NotificationKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	runner   *session.Runner
	clock    *clock
	store    *fakeStore
	notifier *recordingNotifier
	stop     func() error
}

func schedule() *models.BreakSchedule {
	return &models.BreakSchedule{
		AgentID:      agent.AgentID,
		FirstBreak:   models.Clock(1, 0),
		LunchTime:    models.Clock(5, 0),
		EndOfShift:   models.Clock(6, 30),
		AlarmEnabled: true,
		AlarmVolume:  80,
	}
}

func start(t *testing.T, now time.Time) *harness {
	t.Helper()
	c := &clock{t: now}
	st := &fakeStore{schedule: schedule()}
	notifier := &recordingNotifier{}
	engine := alarm.New(agent, alarm.DefaultOptions(), notifier, nil)
	tr := tracker.New(agent, &fakeLedger{clock: c}, notifier, tracker.DefaultOptions())

	runner := session.New(agent, st, engine, tr, session.Options{
		Intervals: session.Intervals{
			Schedule:   20 * time.Millisecond,
			AlarmCheck: 5 * time.Millisecond,
			BreakPoll:  10 * time.Millisecond,
			Display:    5 * time.Millisecond,
		},
		Clock:    c.Now,
		Location: time.UTC,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("session did not stop")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })

	return &harness{runner: runner, clock: c, store: st, notifier: notifier, stop: stop}
}

func TestRunner_ArmsFromFetchedSchedule(t *testing.T) {
	h := start(t, firstBreakAt.Add(-10*time.Minute))

	require.Eventually(t, func() bool {
		return h.runner.Status().AlarmState == models.AlarmArmed
	}, 2*time.Second, 5*time.Millisecond)

	status := h.runner.Status()
	require.NotNil(t, status.NextAlarm)
	assert.Equal(t, models.EventFirst, status.NextAlarm.Event.Kind)
	assert.Equal(t, 10, status.NextAlarm.MinutesUntil)
	assert.True(t, status.InShift)
	assert.Equal(t, "2025-03-10", status.ShiftDate)
	assert.False(t, status.Offline)
	assert.Equal(t, []models.BreakType{models.BreakFirst, models.BreakLunch}, status.QuickStarts)
}

func TestRunner_FiresOnceWhileLoopsKeepTicking(t *testing.T) {
	h := start(t, firstBreakAt.Add(-30*time.Second))

	require.Eventually(t, func() bool {
		return h.notifier.count(models.NotifyAlarm) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// many more alarm checks at the same instant
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.notifier.count(models.NotifyAlarm))
	assert.Equal(t, models.AlarmFiring, h.runner.Status().AlarmState)
}

func TestRunner_UnreachableBackendGoesIdleAndOffline(t *testing.T) {
	h := start(t, firstBreakAt.Add(-10*time.Minute))
	require.Eventually(t, func() bool {
		return h.runner.Status().AlarmState == models.AlarmArmed
	}, 2*time.Second, 5*time.Millisecond)

	h.store.fail(&customerrors.ConnectionError{Op: "get_break_schedule", Err: context.DeadlineExceeded})

	require.Eventually(t, func() bool {
		s := h.runner.Status()
		return s.Offline && s.AlarmState == models.AlarmIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, h.runner.Status().NextAlarm)

	h.store.fail(nil)
	require.Eventually(t, func() bool {
		s := h.runner.Status()
		return !s.Offline && s.AlarmState == models.AlarmArmed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunner_BreakCommands(t *testing.T) {
	ctx := context.Background()
	h := start(t, firstBreakAt)

	started, err := h.runner.StartBreak(ctx, models.BreakFirst)
	require.NoError(t, err)
	assert.Equal(t, models.BreakFirst, started.Type)

	_, err = h.runner.StartBreak(ctx, models.BreakLunch)
	assert.ErrorIs(t, err, customerrors.ErrBreakAlreadyActive)

	h.clock.Set(firstBreakAt.Add(4 * time.Minute))
	require.Eventually(t, func() bool {
		a := h.runner.Status().ActiveBreak
		return a != nil && a.Remaining == 11*time.Minute
	}, 2*time.Second, 5*time.Millisecond)

	ended, err := h.runner.EndBreak(ctx)
	require.NoError(t, err)
	assert.NotNil(t, ended.EndTime)

	_, err = h.runner.StartBio(ctx)
	require.NoError(t, err)
	h.clock.Set(firstBreakAt.Add(6 * time.Minute))
	used, err := h.runner.StopBio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, used)

	require.Eventually(t, func() bool {
		return h.runner.Status().Bio.Pool.Used == 2*time.Minute
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunner_UpdateScheduleReseedsEngine(t *testing.T) {
	ctx := context.Background()
	h := start(t, firstBreakAt.Add(-10*time.Minute))

	second := models.Clock(0, 55)
	updated, err := h.runner.UpdateSchedule(ctx, models.ScheduleUpdate{SecondBreak: &second})
	require.NoError(t, err)
	assert.Equal(t, second, updated.SecondBreak)

	status := h.runner.Status()
	require.NotNil(t, status.NextAlarm)
	assert.Equal(t, models.EventSecond, status.NextAlarm.Event.Kind)
	assert.Equal(t, 5, status.NextAlarm.MinutesUntil)
}

func TestRunner_SetAlarmEnabled(t *testing.T) {
	ctx := context.Background()
	h := start(t, firstBreakAt.Add(-10*time.Minute))
	require.Eventually(t, func() bool {
		return h.runner.Status().AlarmState == models.AlarmArmed
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.runner.SetAlarmEnabled(ctx, false))
	status := h.runner.Status()
	assert.Equal(t, models.AlarmIdle, status.AlarmState)
	assert.False(t, status.Schedule.AlarmEnabled)

	require.NoError(t, h.runner.SetAlarmEnabled(ctx, true))
	assert.Equal(t, models.AlarmArmed, h.runner.Status().AlarmState)
}

func TestRunner_CommandsAfterStopFail(t *testing.T) {
	h := start(t, firstBreakAt)
	require.NoError(t, h.stop())

	_, err := h.runner.StartBreak(context.Background(), models.BreakFirst)
	assert.ErrorIs(t, err, customerrors.ErrSessionClosed)
	assert.ErrorIs(t, h.runner.SetAlarmEnabled(context.Background(), false), customerrors.ErrSessionClosed)
}

func TestRunner_Once(t *testing.T) {
	c := &clock{t: firstBreakAt.Add(-75 * time.Minute)}
	notifier := &recordingNotifier{}
	runner := session.New(agent, &fakeStore{schedule: schedule()},
		alarm.New(agent, alarm.DefaultOptions(), notifier, nil),
		tracker.New(agent, &fakeLedger{clock: c}, notifier, tracker.DefaultOptions()),
		session.Options{Intervals: session.DefaultIntervals(), Clock: c.Now, Location: time.UTC})

	status := runner.Once(context.Background())

	assert.Equal(t, models.AlarmArmed, status.AlarmState)
	require.NotNil(t, status.NextAlarm)
	assert.Equal(t, 75, status.NextAlarm.MinutesUntil)
	require.NotNil(t, status.NextBreak)
	assert.Equal(t, models.EventFirst, status.NextBreak.Kind)
	assert.True(t, status.Bio.CanStart)
	assert.Empty(t, notifier.notes)
}
