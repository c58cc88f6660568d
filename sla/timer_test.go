package sla

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/replywatch/replywatch/queue"
	"github.com/replywatch/replywatch/store"
)

func mskSettings() *store.GlobalSettings {
	return &store.GlobalSettings{
		Timezone:              "Europe/Moscow",
		WorkingDays:           []int{1, 2, 3, 4, 5},
		StartTime:             "09:00",
		EndTime:               "18:00",
		DefaultSLAThreshold:   60,
		MaxEscalations:        3,
		EscalationIntervalMin: 30,
		SLAWarningPercent:     80,
	}
}

func mskTime(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func newTimerFixture(t *testing.T, settings *store.GlobalSettings) (*fakeDriver, *fakeQueue, *Timers, *Lifecycle) {
	t.Helper()
	d := newFakeDriver()
	d.settings = settings
	s := newFakeStore(d)
	q := newFakeQueue()
	r := NewResolver(s)
	return d, q, NewTimers(s, q, r, nil), NewLifecycle(s, nil)
}

func TestStartSLATimer(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueues breach and warning jobs", func(t *testing.T) {
		d, q, timers, _ := newTimerFixture(t, mskSettings())
		chat := &store.Chat{ID: -100200, SLAEnabled: true}
		d.chats[chat.ID] = chat
		// Monday 10:00, threshold 60: breach due 11:00, warning due 10:48.
		req := seedRequest(d, "req-1", chat.ID, 10, store.StatusPending, mskTime(t, 2025, time.March, 3, 10, 0))

		require.NoError(t, timers.StartSLATimer(ctx, req, chat))

		breach, ok := q.entry("timer:req-1")
		require.True(t, ok)
		require.Equal(t, queue.QueueSLATimer, breach.queue)
		payload := breach.payload.(*TimerPayload)
		require.Equal(t, store.AlertTypeBreach, payload.AlertType)
		require.Equal(t, 60, payload.ThresholdMinutes)

		warn, ok := q.entry("warn:req-1")
		require.True(t, ok)
		warnPayload := warn.payload.(*TimerPayload)
		require.Equal(t, store.AlertTypeWarning, warnPayload.AlertType)
		require.Equal(t, 48, warnPayload.ThresholdMinutes, "80% of 60 minutes")
		require.Less(t, warn.opts.Delay, breach.opts.Delay)
	})

	t.Run("zero warning percent disables the warning job", func(t *testing.T) {
		settings := mskSettings()
		settings.SLAWarningPercent = 0
		d, q, timers, _ := newTimerFixture(t, settings)
		chat := &store.Chat{ID: -1, SLAEnabled: true}
		d.chats[chat.ID] = chat
		req := seedRequest(d, "req-1", chat.ID, 10, store.StatusPending, mskTime(t, 2025, time.March, 3, 10, 0))

		require.NoError(t, timers.StartSLATimer(ctx, req, chat))

		_, hasBreach := q.entry("timer:req-1")
		_, hasWarn := q.entry("warn:req-1")
		require.True(t, hasBreach)
		require.False(t, hasWarn)
	})

	t.Run("friday arrival crosses the weekend", func(t *testing.T) {
		d, q, timers, _ := newTimerFixture(t, mskSettings())
		chat := &store.Chat{ID: -100200, SLAEnabled: true}
		d.chats[chat.ID] = chat
		// Friday 2025-01-24 14:55 + 60 working minutes = Friday 15:55; still
		// same day. Use 17:55 + 10-minute threshold to cross the weekend.
		ten := 10
		chat.SLAThresholdMinutes = &ten
		received := mskTime(t, 2025, time.January, 24, 17, 55)
		req := seedRequest(d, "req-1", chat.ID, 10, store.StatusPending, received)

		require.NoError(t, timers.StartSLATimer(ctx, req, chat))

		breach, ok := q.entry("timer:req-1")
		require.True(t, ok)
		// Breach instant is Monday 09:05; the enqueued delay lands there.
		expected := mskTime(t, 2025, time.January, 27, 9, 5)
		fireAt := time.Now().Add(breach.opts.Delay)
		require.WithinDuration(t, expected, fireAt, 2*time.Second)
	})
}

func TestStopSLATimer(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels jobs, claims, and computes working minutes", func(t *testing.T) {
		d, q, timers, lifecycle := newTimerFixture(t, mskSettings())
		chat := &store.Chat{ID: -100200, SLAEnabled: true}
		d.chats[chat.ID] = chat
		received := mskTime(t, 2025, time.March, 3, 10, 0)
		req := seedRequest(d, "req-1", chat.ID, 10, store.StatusPending, received)
		require.NoError(t, timers.StartSLATimer(ctx, req, chat))

		responder := "acc-uuid-1"
		got, err := timers.StopSLATimer(ctx, lifecycle, "req-1",
			received.Add(25*time.Minute), 42, &responder)
		require.NoError(t, err)
		require.Equal(t, 25, got.WorkingMinutes)
		require.False(t, got.Breached)

		require.Contains(t, q.canceledIDs(), "timer:req-1")
		require.Contains(t, q.canceledIDs(), "warn:req-1")

		stored := d.requests["req-1"]
		require.Equal(t, store.StatusAnswered, stored.Status)
		require.Equal(t, 25, *stored.ResponseTimeMinutes)
		require.Equal(t, "acc-uuid-1", *stored.RespondedBy)
		require.Equal(t, 42, *stored.ResponseMessageID)
	})

	t.Run("answer past threshold reports breached", func(t *testing.T) {
		d, _, timers, lifecycle := newTimerFixture(t, mskSettings())
		chat := &store.Chat{ID: -1, SLAEnabled: true}
		d.chats[chat.ID] = chat
		received := mskTime(t, 2025, time.March, 3, 10, 0)
		seedRequest(d, "req-1", chat.ID, 10, store.StatusPending, received)

		got, err := timers.StopSLATimer(ctx, lifecycle, "req-1",
			received.Add(90*time.Minute), 42, nil)
		require.NoError(t, err)
		require.Equal(t, 90, got.WorkingMinutes)
		require.True(t, got.Breached)
		require.True(t, d.requests["req-1"].SLABreached)
	})

	t.Run("weekend gap does not count as working time", func(t *testing.T) {
		d, _, timers, lifecycle := newTimerFixture(t, mskSettings())
		chat := &store.Chat{ID: -1, SLAEnabled: true}
		d.chats[chat.ID] = chat
		// Friday 17:00 -> Monday 09:30 is 60 + 30 working minutes.
		received := mskTime(t, 2025, time.January, 24, 17, 0)
		seedRequest(d, "req-1", chat.ID, 10, store.StatusPending, received)

		got, err := timers.StopSLATimer(ctx, lifecycle, "req-1",
			mskTime(t, 2025, time.January, 27, 9, 30), 42, nil)
		require.NoError(t, err)
		require.Equal(t, 90, got.WorkingMinutes)
	})

	t.Run("second stop loses the race", func(t *testing.T) {
		d, _, timers, lifecycle := newTimerFixture(t, mskSettings())
		chat := &store.Chat{ID: -1, SLAEnabled: true}
		d.chats[chat.ID] = chat
		received := mskTime(t, 2025, time.March, 3, 10, 0)
		seedRequest(d, "req-1", chat.ID, 10, store.StatusPending, received)

		_, err := timers.StopSLATimer(ctx, lifecycle, "req-1", received.Add(5*time.Minute), 42, nil)
		require.NoError(t, err)

		_, err = timers.StopSLATimer(ctx, lifecycle, "req-1", received.Add(6*time.Minute), 43, nil)
		require.ErrorIs(t, err, ErrRaceLost)

		require.Equal(t, 42, *d.requests["req-1"].ResponseMessageID, "first responder's claim stands")
	})

	t.Run("missing request", func(t *testing.T) {
		_, _, timers, lifecycle := newTimerFixture(t, mskSettings())
		_, err := timers.StopSLATimer(ctx, lifecycle, "ghost", time.Now(), 1, nil)
		require.ErrorIs(t, err, ErrRequestNotFound)
	})
}
