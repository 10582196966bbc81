package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/recurrence"
)

// Monday 2024-03-04 10:00 UTC
var testNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testPayload(alarmID string) Payload {
	return Payload{
		AlarmID:       alarmID,
		ProfileID:     "p1",
		MedicationIDs: []string{"m1"},
		Title:         "💊 Hora do Medicamento",
		Body:          "Dipirona (500mg)",
		Channel:       ChannelDefault,
		Category:      CategoryMedicationAlarm,
	}
}

func TestMemoryStore_Schedule_DailyNextFire(t *testing.T) {
	s := NewMemoryStore(WithClock(fixedClock))

	handle, err := s.Schedule(context.Background(), "a1", recurrence.Daily(8, 0), testPayload("a1"))
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	ds, err := s.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, ds, 1)
	require.Equal(t, time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC), ds[0].NextFireAt)
	require.Equal(t, "a1", ds[0].Labels.Get(LabelAlarmID))
	require.Equal(t, KindRegular, ds[0].Labels.Get(LabelKind))
}

func TestMemoryStore_Schedule_ElapsedOnce(t *testing.T) {
	s := NewMemoryStore(WithClock(fixedClock))

	_, err := s.Schedule(context.Background(), "a1#esc", recurrence.Once(testNow.Add(-time.Minute)), testPayload("a1"))
	require.True(t, apperrors.Is(err, apperrors.ErrScheduleFailed))
	require.Zero(t, s.Len())
}

func TestMemoryStore_Schedule_PermissionDenied(t *testing.T) {
	s := NewMemoryStore(WithClock(fixedClock), WithPermission(false))

	granted, err := s.RequestPermissions(context.Background())
	require.NoError(t, err)
	require.False(t, granted)

	_, err = s.Schedule(context.Background(), "a1", recurrence.Daily(8, 0), testPayload("a1"))
	require.True(t, apperrors.Is(err, apperrors.ErrPermissionDenied))

	s.SetPermission(true)
	_, err = s.Schedule(context.Background(), "a1", recurrence.Daily(8, 0), testPayload("a1"))
	require.NoError(t, err)
}

func TestMemoryStore_Schedule_Quota(t *testing.T) {
	s := NewMemoryStore(WithClock(fixedClock), WithQuota(NewQuota(2, 0, 0)))
	ctx := context.Background()

	_, err := s.Schedule(ctx, "a1", recurrence.Daily(8, 0), testPayload("a1"))
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "a2", recurrence.Daily(9, 0), testPayload("a2"))
	require.NoError(t, err)

	_, err = s.Schedule(ctx, "a3", recurrence.Daily(10, 0), testPayload("a3"))
	require.True(t, apperrors.Is(err, apperrors.ErrQuotaExceeded))

	// replacing a pending id does not grow the set
	_, err = s.Schedule(ctx, "a2", recurrence.Daily(9, 30), testPayload("a2"))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
}

func TestMemoryStore_ListPending_Matchers(t *testing.T) {
	s := NewMemoryStore(WithClock(fixedClock))
	ctx := context.Background()

	_, _ = s.Schedule(ctx, "a1#wd1", recurrence.Weekday(8, 0, time.Monday), testPayload("a1"))
	_, _ = s.Schedule(ctx, "a1#wd3", recurrence.Weekday(8, 0, time.Wednesday), testPayload("a1"))
	_, _ = s.Schedule(ctx, "a2", recurrence.Daily(9, 0), testPayload("a2"))
	esc := testPayload("a1")
	esc.IsRepeat = true
	_, _ = s.Schedule(ctx, "a1#esc-1", recurrence.Once(testNow.Add(5*time.Minute)), esc)

	ds, err := s.ListPending(ctx, MatchAlarm("a1", "")...)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	// ordered by next fire
	require.Equal(t, "a1#esc-1", ds[0].ID)
	require.Equal(t, "a1#wd3", ds[1].ID)
	require.Equal(t, "a1#wd1", ds[2].ID)

	ds, err = s.ListPending(ctx, MatchAlarm("a1", KindEscalation)...)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	require.Equal(t, "a1#esc-1", ds[0].ID)
}

func TestMemoryStore_Cancel(t *testing.T) {
	s := NewMemoryStore(WithClock(fixedClock))
	ctx := context.Background()

	_, _ = s.Schedule(ctx, "a1", recurrence.Daily(8, 0), testPayload("a1"))
	_, _ = s.Schedule(ctx, "a2", recurrence.Daily(9, 0), testPayload("a2"))

	require.NoError(t, s.Cancel(ctx, "missing"))
	require.NoError(t, s.Cancel(ctx, "a1"))
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.CancelAll(ctx))
	require.Zero(t, s.Len())
}

func TestMemoryStore_Fire(t *testing.T) {
	s := NewMemoryStore(WithClock(fixedClock))
	ctx := context.Background()

	_, _ = s.Schedule(ctx, "a1", recurrence.Daily(10, 3), testPayload("a1"))
	_, _ = s.Schedule(ctx, "a2#esc-1", recurrence.Once(testNow.Add(5*time.Minute)), testPayload("a2"))
	_, _ = s.Schedule(ctx, "a3", recurrence.Daily(11, 0), testPayload("a3"))

	events, err := s.Fire(ctx, testNow.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, events)

	fireAt := testNow.Add(10 * time.Minute)
	events, err = s.Fire(ctx, fireAt)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "a1", events[0].TriggerID)
	require.Equal(t, time.Date(2024, 3, 4, 10, 3, 0, 0, time.UTC), events[0].DueAt)
	require.Equal(t, fireAt, events[0].FiredAt)
	require.Equal(t, "a2#esc-1", events[1].TriggerID)

	// the one-shot is gone, the daily one moved to tomorrow
	ds, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	require.Equal(t, "a3", ds[0].ID)
	require.Equal(t, "a1", ds[1].ID)
	require.Equal(t, time.Date(2024, 3, 5, 10, 3, 0, 0, time.UTC), ds[1].NextFireAt)
}
