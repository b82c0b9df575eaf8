package tracker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	customerrors "break-scheduler/errors"
	"break-scheduler/models"
	"break-scheduler/tracker"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var agent = models.Identity{AgentID: "agent-1", AgentName: "Dana"}

// shiftStart is 01:00 on the test shift's night.
var shiftStart = time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC)

type fakeLedger struct {
	now      time.Time
	breaks   []models.BreakSession
	poolUsed float64
	fail     error
}

func (l *fakeLedger) StartBreak(_ context.Context, agentID string, bt models.BreakType) (*models.BreakSession, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	b := models.BreakSession{ID: uuid.NewString(), AgentID: agentID, Type: bt, StartTime: l.now}
	l.breaks = append(l.breaks, b)
	return &b, nil
}

func (l *fakeLedger) EndBreak(_ context.Context, id string) (*models.BreakSession, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	for i := range l.breaks {
		if l.breaks[i].ID == id {
			end := l.now
			l.breaks[i].EndTime = &end
			b := l.breaks[i]
			return &b, nil
		}
	}
	return nil, &customerrors.APIError{Op: "end_break", Status: 404}
}

func (l *fakeLedger) TodayBreaks(context.Context, string) (*models.TodayBreaks, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	out := make([]models.BreakSession, len(l.breaks))
	copy(out, l.breaks)
	return &models.TodayBreaks{Breaks: out, BioBreakPool: models.BioBreakPoolUsage{Used: l.poolUsed}}, nil
}

type recordingNotifier struct {
	notes []models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func ended(bt models.BreakType, start time.Time, d time.Duration) models.BreakSession {
	end := start.Add(d)
	return models.BreakSession{ID: uuid.NewString(), AgentID: agent.AgentID, Type: bt, StartTime: start, EndTime: &end}
}

func open(bt models.BreakType, start time.Time) models.BreakSession {
	return models.BreakSession{ID: uuid.NewString(), AgentID: agent.AgentID, Type: bt, StartTime: start}
}

func TestSelectActive(t *testing.T) {
	lunch := open(models.BreakLunch, shiftStart)
	first := open(models.BreakFirst, shiftStart.Add(time.Minute))

	tests := map[string]struct {
		breaks       []models.BreakSession
		expectedID   string
		expectedOpen int
	}{
		"Empty": {},
		"OnlyEnded": {
			breaks: []models.BreakSession{ended(models.BreakFirst, shiftStart, 15*time.Minute)},
		},
		"BioIgnored": {
			breaks: []models.BreakSession{open(models.BreakBio, shiftStart)},
		},
		"SingleOpen": {
			breaks:       []models.BreakSession{ended(models.BreakFirst, shiftStart, time.Minute), lunch},
			expectedID:   lunch.ID,
			expectedOpen: 1,
		},
		"TwoOpen_FirstMatchWins": {
			breaks:       []models.BreakSession{lunch, first},
			expectedID:   lunch.ID,
			expectedOpen: 2,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, n := tracker.SelectActive(tc.breaks)
			assert.Equal(t, tc.expectedOpen, n)
			if tc.expectedID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.expectedID, got.ID)
		})
	}
}

func TestCountdown(t *testing.T) {
	tests := map[string]struct {
		breakType         models.BreakType
		elapsed           time.Duration
		expectedRemaining time.Duration
		overtime          bool
	}{
		"First_JustStarted": {breakType: models.BreakFirst, elapsed: 0, expectedRemaining: 15 * time.Minute},
		"Second_Halfway":    {breakType: models.BreakSecond, elapsed: 7*time.Minute + 30*time.Second, expectedRemaining: 7*time.Minute + 30*time.Second},
		"Lunch_TenMinutes":  {breakType: models.BreakLunch, elapsed: 10 * time.Minute, expectedRemaining: 20 * time.Minute},
		"First_Overrun":     {breakType: models.BreakFirst, elapsed: 20 * time.Minute, expectedRemaining: 0, overtime: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ledger := &fakeLedger{breaks: []models.BreakSession{open(tc.breakType, shiftStart)}}
			tr := tracker.New(agent, ledger, nil, tracker.DefaultOptions())
			require.NoError(t, tr.Refresh(context.Background(), shiftStart))

			c := tr.Countdown(shiftStart.Add(tc.elapsed))
			require.NotNil(t, c)
			assert.Equal(t, tc.elapsed, c.Elapsed)
			assert.Equal(t, tc.expectedRemaining, c.Remaining)
			assert.Equal(t, tc.overtime, c.Overtime())

			// the countdown never ends the break on its own
			require.NoError(t, tr.Refresh(context.Background(), shiftStart.Add(tc.elapsed)))
			assert.NotNil(t, tr.Active())
		})
	}
}

func TestCountdown_KeepsCachedStartAcrossPolls(t *testing.T) {
	ledger := &fakeLedger{breaks: []models.BreakSession{open(models.BreakFirst, time.Time{})}}
	tr := tracker.New(agent, ledger, nil, tracker.DefaultOptions())

	require.NoError(t, tr.Refresh(context.Background(), shiftStart))
	require.NoError(t, tr.Refresh(context.Background(), shiftStart.Add(5*time.Second)))

	c := tr.Countdown(shiftStart.Add(time.Minute))
	require.NotNil(t, c)
	assert.Equal(t, time.Minute, c.Elapsed)
}

func TestBioPool_DepletesLiveWithoutForceStop(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{
		now: shiftStart,
		breaks: []models.BreakSession{
			ended(models.BreakBio, shiftStart.Add(-3*time.Hour), 10*time.Minute),
			ended(models.BreakBio, shiftStart.Add(-2*time.Hour), 4*time.Minute),
		},
	}
	tr := tracker.New(agent, ledger, nil, tracker.DefaultOptions())
	require.NoError(t, tr.Refresh(ctx, shiftStart))

	bio := tr.Bio(shiftStart)
	assert.Equal(t, 14*time.Minute, bio.Pool.Used)
	assert.Equal(t, time.Minute, bio.Pool.RemainingClamped())
	assert.True(t, bio.CanStart)

	_, err := tr.StartBio(ctx, shiftStart)
	require.NoError(t, err)

	halfway := tr.Bio(shiftStart.Add(30 * time.Second))
	assert.Equal(t, 30*time.Second, halfway.Pool.RemainingClamped())
	assert.False(t, halfway.CanStart)

	over := tr.Bio(shiftStart.Add(3 * time.Minute))
	assert.Equal(t, time.Duration(0), over.Pool.RemainingClamped())
	assert.Equal(t, -2*time.Minute, over.Pool.Remaining())
	require.NotNil(t, over.Active, "running bio break must not be force-stopped")
	assert.Equal(t, 3*time.Minute, over.Elapsed)

	ledger.now = shiftStart.Add(3 * time.Minute)
	used, err := tr.StopBio(ctx, ledger.now)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, used)

	after := tr.Bio(ledger.now)
	assert.Nil(t, after.Active)
	assert.False(t, after.CanStart)
	assert.Equal(t, 17*time.Minute, after.Pool.Used)

	_, err = tr.StartBio(ctx, ledger.now)
	assert.ErrorIs(t, err, customerrors.ErrBioPoolExhausted)
}

func TestBioPool_LedgerCountIsFloor(t *testing.T) {
	ledger := &fakeLedger{poolUsed: 6}
	tr := tracker.New(agent, ledger, nil, tracker.DefaultOptions())
	require.NoError(t, tr.Refresh(context.Background(), shiftStart))

	assert.Equal(t, 6*time.Minute, tr.BioPool(shiftStart).Used)
	assert.Equal(t, 9*time.Minute, tr.BioPool(shiftStart).Remaining())
}

func TestCheckBioWarning(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	ledger := &fakeLedger{now: shiftStart}
	tr := tracker.New(agent, ledger, notifier, tracker.DefaultOptions())
	require.NoError(t, tr.Refresh(ctx, shiftStart))

	_, err := tr.StartBio(ctx, shiftStart)
	require.NoError(t, err)

	assert.False(t, tr.CheckBioWarning(ctx, shiftStart.Add(11*time.Minute)))
	assert.True(t, tr.CheckBioWarning(ctx, shiftStart.Add(12*time.Minute)))
	assert.False(t, tr.CheckBioWarning(ctx, shiftStart.Add(13*time.Minute)))

	require.Len(t, notifier.notes, 1)
	assert.Equal(t, models.NotifyBioWarning, notifier.notes[0].Kind)
	assert.Equal(t, "Bio break: 3 minutes remaining in your 15-minute pool!", notifier.notes[0].Title)
}

func TestStartAndEndBreak(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{now: shiftStart}
	tr := tracker.New(agent, ledger, nil, tracker.DefaultOptions())
	schedule := models.DefaultSchedule(agent.AgentID)
	schedule.SecondBreak = models.TimeOfDay{}
	tr.SetSchedule(schedule)

	assert.Equal(t, []models.BreakType{models.BreakFirst, models.BreakLunch}, tr.QuickStarts())
	next := tr.NextBreak(shiftStart.Add(-time.Hour))
	require.NotNil(t, next)
	assert.Equal(t, models.EventFirst, next.Kind)
	assert.Equal(t, 60, next.MinutesUntil())

	_, err := tr.StartBreak(ctx, shiftStart, models.BreakSecond)
	assert.ErrorIs(t, err, customerrors.ErrBreakNotConfigured)

	_, err = tr.StartBreak(ctx, shiftStart, models.BreakType("NAP"))
	assert.ErrorIs(t, err, customerrors.ErrInvalidBreakType)

	session, err := tr.StartBreak(ctx, shiftStart, models.BreakFirst)
	require.NoError(t, err)
	assert.Equal(t, models.BreakFirst, session.Type)
	assert.Nil(t, tr.QuickStarts())
	assert.Nil(t, tr.NextBreak(shiftStart))

	_, err = tr.StartBreak(ctx, shiftStart, models.BreakLunch)
	assert.ErrorIs(t, err, customerrors.ErrBreakAlreadyActive)

	// bio breaks are tracked independently of scheduled ones
	_, err = tr.StartBreak(ctx, shiftStart, models.BreakBio)
	require.NoError(t, err)

	ledger.now = shiftStart.Add(14 * time.Minute)
	endedSession, err := tr.EndBreak(ctx, ledger.now)
	require.NoError(t, err)
	assert.Equal(t, 14*time.Minute, endedSession.Duration(time.Time{}))
	assert.Nil(t, tr.Active())

	_, err = tr.EndBreak(ctx, ledger.now)
	assert.ErrorIs(t, err, customerrors.ErrNoActiveBreak)
}

func TestRefreshFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{breaks: []models.BreakSession{open(models.BreakLunch, shiftStart)}}
	tr := tracker.New(agent, ledger, nil, tracker.DefaultOptions())
	require.NoError(t, tr.Refresh(ctx, shiftStart))

	ledger.fail = &customerrors.ConnectionError{Op: "today_breaks", Err: fmt.Errorf("connection refused")}
	err := tr.Refresh(ctx, shiftStart.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, customerrors.IsConnection(err))
	require.NotNil(t, tr.Active())
	assert.Equal(t, models.BreakLunch, tr.Active().Type)
}

func TestRefreshPicksUpRemoteEnd(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{breaks: []models.BreakSession{open(models.BreakFirst, shiftStart)}}
	tr := tracker.New(agent, ledger, nil, tracker.DefaultOptions())
	require.NoError(t, tr.Refresh(ctx, shiftStart))
	require.NotNil(t, tr.Active())

	end := shiftStart.Add(10 * time.Minute)
	ledger.breaks[0].EndTime = &end
	require.NoError(t, tr.Refresh(ctx, end))
	assert.Nil(t, tr.Active())
	assert.Nil(t, tr.Countdown(end))
}
