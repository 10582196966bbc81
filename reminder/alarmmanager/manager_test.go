package alarmmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/backend"
	"github.com/ongniud/medalarm/reminder/model"
	"github.com/ongniud/medalarm/reminder/recurrence"
	"github.com/ongniud/medalarm/reminder/trigger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

type recordingNotifier struct {
	mu  sync.Mutex
	got []*Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, ns []*Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ns...)
	return nil
}

func (r *recordingNotifier) all() []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Notification(nil), r.got...)
}

type fixture struct {
	clock     *testClock
	backend   *backend.MemoryBackend
	store     *trigger.MemoryStore
	storage   *MemoryStorage
	notifier  *recordingNotifier
	mgr       *AlarmManager
	mu        sync.Mutex
	decisions []DecisionEvent
}

func newFixture(t *testing.T, alarms ...model.Alarm) *fixture {
	f := &fixture{
		clock:    &testClock{now: testNow},
		backend:  backend.NewMemoryBackend(),
		storage:  NewMemoryStorage(),
		notifier: &recordingNotifier{},
	}
	f.backend.SetClock(f.clock.Now)
	f.store = trigger.NewMemoryStore(trigger.WithClock(f.clock.Now))
	for _, m := range testMeds {
		f.backend.PutMedication(m)
	}
	for i := range alarms {
		_, err := f.backend.CreateAlarm(context.Background(), &alarms[i])
		require.NoError(t, err)
	}
	f.mgr = f.newManager(t, DefaultOptions())
	return f
}

func (f *fixture) newManager(t *testing.T, opts Options) *AlarmManager {
	opts.Location = time.UTC
	opts.Now = f.clock.Now
	opts.Observers = []Observer{ObserverFunc(func(ctx context.Context, ev DecisionEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.decisions = append(f.decisions, ev)
	})}
	mgr := NewAlarmManager("p1", f.backend, f.store, f.notifier, f.storage, opts)
	_, err := mgr.Start(context.Background())
	require.NoError(t, err)
	return mgr
}

// fireAt moves the clock to at and delivers every trigger due by then.
func (f *fixture) fireAt(t *testing.T, at time.Time) []trigger.Event {
	f.clock.Set(at)
	events, err := f.store.Fire(context.Background(), at)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, f.mgr.HandleFired(context.Background(), ev))
	}
	return events
}

func (f *fixture) escalations(t *testing.T, alarmID string) []trigger.Descriptor {
	ds, err := f.store.ListPending(context.Background(), trigger.MatchAlarm(alarmID, trigger.KindEscalation)...)
	require.NoError(t, err)
	return ds
}

func (f *fixture) logs(t *testing.T) []model.AlarmLog {
	logs, err := f.backend.AlarmLogs(context.Background(), "p1", 0)
	require.NoError(t, err)
	return logs
}

func dailyAlarm(id string, critical bool) model.Alarm {
	return model.Alarm{
		ID:                    id,
		ProfileID:             "p1",
		Time:                  "10:05",
		Frequency:             model.FrequencyDaily,
		MedicationIDs:         []string{"m1"},
		IsCritical:            critical,
		RepeatIntervalMinutes: 5,
		IsActive:              true,
	}
}

var fireTime = time.Date(2024, 3, 4, 10, 5, 0, 0, time.UTC)

func TestManager_Start_SchedulesProfile(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true), dailyAlarm("a2", false))
	require.ElementsMatch(t, []string{"a1", "a2"}, pendingIDs(t, f.store))
}

func TestManager_CriticalFire_ArmsEscalation(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))

	events := f.fireAt(t, fireTime)
	require.Len(t, events, 1)

	ns := f.notifier.all()
	require.Len(t, ns, 1)
	require.Equal(t, TitleCritical, ns[0].Title)
	require.Equal(t, trigger.ChannelCritical, ns[0].Channel)

	inst := f.mgr.Instance("a1")
	require.NotNil(t, inst)
	require.Equal(t, StateEscalating, inst.State())

	esc := f.escalations(t, "a1")
	require.Len(t, esc, 1)
	require.Equal(t, EscalationID("a1", fireTime.Add(5*time.Minute)), esc[0].ID)
	require.Equal(t, fireTime.Add(5*time.Minute), esc[0].NextFireAt)
	id, due := inst.Escalation()
	require.Equal(t, esc[0].ID, id)
	require.Equal(t, esc[0].NextFireAt, due)
}

func TestManager_EscalationRefires(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))
	f.fireAt(t, fireTime)

	events := f.fireAt(t, fireTime.Add(5*time.Minute))
	require.Len(t, events, 1)
	require.True(t, events[0].Payload.IsRepeat)

	ns := f.notifier.all()
	require.Len(t, ns, 2)
	require.Equal(t, TitleEscalation, ns[1].Title)
	require.Equal(t, "Você ainda precisa tomar: Paracetamol", ns[1].Body)

	inst := f.mgr.Instance("a1")
	require.Equal(t, StateEscalating, inst.State())
	snap := inst.Snapshot()
	require.Equal(t, 2, snap.Fires)
	require.Equal(t, 2, snap.Escalations)

	next := fireTime.Add(10 * time.Minute)
	esc := f.escalations(t, "a1")
	require.Len(t, esc, 1, "an unanswered escalation arms the next one")
	require.Equal(t, EscalationID("a1", next), esc[0].ID)
	require.Equal(t, next, esc[0].NextFireAt)
	id, due := inst.Escalation()
	require.Equal(t, esc[0].ID, id)
	require.Equal(t, next, due)
}

func TestManager_EscalationRepeatsUntilConfirmed(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))
	f.fireAt(t, fireTime)

	for i := 1; i <= 3; i++ {
		events := f.fireAt(t, fireTime.Add(time.Duration(i)*5*time.Minute))
		require.Len(t, events, 1)
		require.True(t, events[0].Payload.IsRepeat)
		esc := f.escalations(t, "a1")
		require.Len(t, esc, 1)
		require.Equal(t, fireTime.Add(time.Duration(i+1)*5*time.Minute), esc[0].NextFireAt)
	}
	require.Len(t, f.notifier.all(), 4)
	require.Zero(t, f.mgr.Sweep(context.Background()), "a live escalation is never swept")

	f.clock.Advance(time.Minute)
	log, err := f.mgr.ConfirmAlarm(context.Background(), "a1", model.LogTaken)
	require.NoError(t, err)
	require.Equal(t, fireTime, log.ScheduledTime)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.Equal(t, model.LogTaken, logs[0].Status)
	require.Nil(t, f.mgr.Instance("a1"))
	require.Empty(t, f.escalations(t, "a1"))

	require.Empty(t, f.fireAt(t, fireTime.Add(25*time.Minute)))
	require.Len(t, f.notifier.all(), 4)
}

func TestManager_SnoozedEscalationRepeats(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))
	opts := DefaultOptions()
	opts.AutoEscalate = false
	f.mgr = f.newManager(t, opts)

	f.fireAt(t, fireTime)
	_, err := f.mgr.SnoozeAlarm(context.Background(), "a1")
	require.NoError(t, err)

	require.Len(t, f.fireAt(t, fireTime.Add(5*time.Minute)), 1)
	require.Equal(t, StateEscalating, f.mgr.Instance("a1").State())
	esc := f.escalations(t, "a1")
	require.Len(t, esc, 1)
	require.Equal(t, fireTime.Add(10*time.Minute), esc[0].NextFireAt)
}

func TestManager_Confirm_Taken(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))
	f.fireAt(t, fireTime)
	f.clock.Advance(2 * time.Minute)

	log, err := f.mgr.ConfirmAlarm(context.Background(), "a1", model.LogTaken)
	require.NoError(t, err)
	require.Equal(t, model.LogTaken, log.Status)
	require.Equal(t, fireTime, log.ScheduledTime)
	require.NotNil(t, log.ConfirmedTime)
	require.Equal(t, fireTime.Add(2*time.Minute), *log.ConfirmedTime)
	require.Equal(t, []string{"m1"}, log.MedicationIDs)

	require.Nil(t, f.mgr.Instance("a1"))
	require.Empty(t, f.escalations(t, "a1"))
	require.Contains(t, pendingIDs(t, f.store), "a1", "the regular trigger stays")

	m1, _ := f.backend.Medication("m1")
	require.Equal(t, 9, m1.StockQuantity)
	require.Len(t, f.decisions, 1)
	require.Equal(t, model.LogTaken, f.decisions[0].Status)
}

func TestManager_Confirm_WithoutInstance(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", false))

	log, err := f.mgr.ConfirmAlarm(context.Background(), "a1", model.LogSkipped)
	require.NoError(t, err)
	require.Equal(t, testNow, log.ScheduledTime)
	require.Equal(t, model.LogSkipped, log.Status)

	_, err = f.mgr.ConfirmAlarm(context.Background(), "ghost", model.LogTaken)
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = f.mgr.ConfirmAlarm(context.Background(), "a1", model.LogMissed)
	require.True(t, apperrors.Is(err, apperrors.ErrAlarmInvalid))
}

func TestManager_Confirm_LogWriteFailureKeepsState(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))
	f.fireAt(t, fireTime)
	f.backend.FailLogWrites(errors.New("offline"))

	_, err := f.mgr.ConfirmAlarm(context.Background(), "a1", model.LogTaken)
	require.True(t, apperrors.Is(err, apperrors.ErrNetworkFailure))

	inst := f.mgr.Instance("a1")
	require.NotNil(t, inst)
	require.Equal(t, StateEscalating, inst.State())
	require.Len(t, f.escalations(t, "a1"), 1, "escalation stays armed")
	require.Empty(t, f.decisions)

	f.backend.FailLogWrites(nil)
	_, err = f.mgr.ConfirmAlarm(context.Background(), "a1", model.LogTaken)
	require.NoError(t, err)
	require.Nil(t, f.mgr.Instance("a1"))
	require.Empty(t, f.escalations(t, "a1"))
}

func TestManager_Snooze_NonCriticalRejected(t *testing.T) {
	f := newFixture(t, dailyAlarm("a2", false))

	_, err := f.mgr.SnoozeAlarm(context.Background(), "a2")
	require.True(t, apperrors.Is(err, apperrors.ErrNoOpenInstance))

	f.fireAt(t, fireTime)
	_, err = f.mgr.SnoozeAlarm(context.Background(), "a2")
	require.True(t, apperrors.Is(err, apperrors.ErrSnoozeNotAllowed))
	require.Equal(t, StateFired, f.mgr.Instance("a2").State())
	require.Empty(t, f.escalations(t, "a2"))
}

func TestManager_Snooze_ArmsAndTakeCancels(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))
	opts := DefaultOptions()
	opts.AutoEscalate = false
	f.mgr = f.newManager(t, opts)

	f.fireAt(t, fireTime)
	require.Equal(t, StateFired, f.mgr.Instance("a1").State())
	require.Empty(t, f.escalations(t, "a1"))

	f.clock.Advance(time.Minute)
	id, err := f.mgr.SnoozeAlarm(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, EscalationID("a1", fireTime.Add(6*time.Minute)), id)
	require.Equal(t, StateEscalating, f.mgr.Instance("a1").State())

	f.clock.Advance(time.Minute)
	again, err := f.mgr.SnoozeAlarm(context.Background(), "a1")
	require.NoError(t, err)
	esc := f.escalations(t, "a1")
	require.Len(t, esc, 1, "older escalation is replaced")
	require.Equal(t, again, esc[0].ID)
	require.Equal(t, fireTime.Add(7*time.Minute), esc[0].NextFireAt)
	require.Empty(t, f.logs(t), "snooze writes no log")

	_, err = f.mgr.ConfirmAlarm(context.Background(), "a1", model.LogTaken)
	require.NoError(t, err)
	require.Empty(t, f.escalations(t, "a1"))
}

func TestManager_HandleAction(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))
	f.fireAt(t, fireTime)
	ctx := context.Background()

	require.NoError(t, f.mgr.HandleAction(ctx, ActionEvent{AlarmID: "a1", Action: trigger.ActionSnooze}))
	require.Len(t, f.escalations(t, "a1"), 1)

	require.NoError(t, f.mgr.HandleAction(ctx, ActionEvent{AlarmID: "a1", Action: trigger.ActionSkip}))
	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.Equal(t, model.LogSkipped, logs[0].Status)

	err := f.mgr.HandleAction(ctx, ActionEvent{AlarmID: "a1", Action: "dance"})
	require.True(t, apperrors.Is(err, apperrors.ErrAlarmInvalid))
}

func TestManager_StaleFire(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", false))
	ctx := context.Background()

	ghost := trigger.Payload{AlarmID: "ghost", ProfileID: "p1", Title: TitleRegular}
	_, err := f.store.Schedule(ctx, "ghost", recurrence.Daily(10, 5), ghost)
	require.NoError(t, err)
	_, err = f.store.Schedule(ctx, "ghost#esc-1", recurrence.Once(fireTime.Add(time.Hour)), ghost)
	require.NoError(t, err)

	f.fireAt(t, fireTime)

	ns := f.notifier.all()
	require.Len(t, ns, 1)
	require.Equal(t, "a1", ns[0].AlarmID)
	require.Nil(t, f.mgr.Instance("ghost"))
	require.Equal(t, []string{"a1"}, pendingIDs(t, f.store), "stale triggers are cancelled")
	require.Empty(t, f.logs(t))
}

func TestManager_StaleFire_InactiveAlarm(t *testing.T) {
	inactive := dailyAlarm("a3", false)
	inactive.IsActive = false
	f := newFixture(t, inactive)

	err := f.mgr.HandleFired(context.Background(), trigger.Event{
		TriggerID: "a3",
		Payload:   trigger.Payload{AlarmID: "a3", ProfileID: "p1"},
		DueAt:     fireTime,
		FiredAt:   fireTime,
	})
	require.NoError(t, err)
	require.Nil(t, f.mgr.Instance("a3"))
	require.Empty(t, f.notifier.all())
}

func TestManager_Sweep_WritesOneMissedLog(t *testing.T) {
	f := newFixture(t, dailyAlarm("a2", false))
	ctx := context.Background()
	f.fireAt(t, fireTime)

	f.clock.Set(fireTime.Add(25 * time.Minute))
	require.Zero(t, f.mgr.Sweep(ctx))

	f.clock.Set(fireTime.Add(31 * time.Minute))
	require.Equal(t, 1, f.mgr.Sweep(ctx))
	require.Zero(t, f.mgr.Sweep(ctx))

	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.Equal(t, model.LogMissed, logs[0].Status)
	require.Equal(t, fireTime, logs[0].ScheduledTime)
	require.Nil(t, logs[0].ConfirmedTime)
	require.Nil(t, f.mgr.Instance("a2"))
	require.Len(t, f.decisions, 1)
	require.Equal(t, model.LogMissed, f.decisions[0].Status)
}

func TestManager_Sweep_RetriesFailedLog(t *testing.T) {
	f := newFixture(t, dailyAlarm("a2", false))
	ctx := context.Background()
	f.fireAt(t, fireTime)
	f.backend.FailLogWrites(errors.New("offline"))

	f.clock.Set(fireTime.Add(time.Hour))
	require.Zero(t, f.mgr.Sweep(ctx))
	require.NotNil(t, f.mgr.Instance("a2"))

	f.backend.FailLogWrites(nil)
	require.Equal(t, 1, f.mgr.Sweep(ctx))
}

func TestManager_Sweep_SparesLiveEscalation(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true))
	f.fireAt(t, fireTime)

	// escalation due 10:10, grace runs until 10:40
	f.clock.Set(fireTime.Add(30 * time.Minute))
	require.Zero(t, f.mgr.Sweep(context.Background()))
	require.Equal(t, StateEscalating, f.mgr.Instance("a1").State())

	f.clock.Set(fireTime.Add(36 * time.Minute))
	require.Equal(t, 1, f.mgr.Sweep(context.Background()))
	require.Empty(t, f.escalations(t, "a1"))
}

func TestManager_NextFireClosesPreviousAsMissed(t *testing.T) {
	f := newFixture(t, dailyAlarm("a2", false))
	f.fireAt(t, fireTime)
	first := f.mgr.Instance("a2").ID()

	f.fireAt(t, fireTime.AddDate(0, 0, 1))
	inst := f.mgr.Instance("a2")
	require.NotEqual(t, first, inst.ID())
	require.Equal(t, StateFired, inst.State())

	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.Equal(t, model.LogMissed, logs[0].Status)
	require.Equal(t, fireTime, logs[0].ScheduledTime)
	require.Len(t, f.decisions, 1)
	require.Equal(t, model.LogMissed, f.decisions[0].Status)
}

func TestManager_Restart_RearmsEscalation(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true), dailyAlarm("a2", false))
	f.fireAt(t, fireTime)
	f.mgr.Stop()

	require.NoError(t, f.backend.DeleteAlarm(context.Background(), "a2"))
	f.clock.Advance(2 * time.Minute)
	f.mgr = f.newManager(t, DefaultOptions())

	inst := f.mgr.Instance("a1")
	require.NotNil(t, inst)
	require.Equal(t, StateEscalating, inst.State())
	require.Nil(t, f.mgr.Instance("a2"), "instances of removed alarms are dropped")

	esc := f.escalations(t, "a1")
	require.Len(t, esc, 1)
	require.Equal(t, fireTime.Add(5*time.Minute), esc[0].NextFireAt)
	require.ElementsMatch(t, []string{"a1", esc[0].ID}, pendingIDs(t, f.store))
}

func TestManager_AlarmLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.mgr.CreateAlarm(ctx, &model.Alarm{
		Time:          "09:00",
		Frequency:     model.FrequencySpecific,
		SpecificDays:  []int{1, 2},
		MedicationIDs: []string{"m1"},
		IsActive:      true,
	})
	require.NoError(t, err)
	require.Equal(t, "p1", created.ProfileID)
	require.ElementsMatch(t, []string{created.ID + "#wd1", created.ID + "#wd2"}, pendingIDs(t, f.store))

	_, err = f.mgr.ToggleActive(ctx, created.ID, false)
	require.NoError(t, err)
	require.Empty(t, pendingIDs(t, f.store))

	_, err = f.mgr.ToggleActive(ctx, created.ID, true)
	require.NoError(t, err)
	require.Len(t, pendingIDs(t, f.store), 2)

	require.NoError(t, f.mgr.DeleteAlarm(ctx, created.ID))
	require.Empty(t, pendingIDs(t, f.store))

	_, err = f.mgr.CreateAlarm(ctx, &model.Alarm{Time: "9am"})
	require.True(t, apperrors.Is(err, apperrors.ErrAlarmInvalid))
}

func TestManager_ObserverRunsOutsideLock(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", false))
	f.fireAt(t, fireTime)

	var seen *Instance
	opts := DefaultOptions()
	opts.Location = time.UTC
	opts.Now = f.clock.Now
	opts.Observers = []Observer{ObserverFunc(func(ctx context.Context, ev DecisionEvent) {
		seen = f.mgr.Instance(ev.AlarmID)
	})}
	mgr := NewAlarmManager("p1", f.backend, f.store, f.notifier, f.storage, opts)
	_, err := mgr.Start(context.Background())
	require.NoError(t, err)
	f.mgr = mgr

	_, err = mgr.ConfirmAlarm(context.Background(), "a1", model.LogTaken)
	require.NoError(t, err)
	require.Nil(t, seen)
}

func TestManager_RunStop(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", false))
	opts := DefaultOptions()
	opts.SweepInterval = 10 * time.Millisecond
	mgr := f.newManager(t, opts)
	mgr.Run(context.Background())
	time.Sleep(30 * time.Millisecond)
	mgr.Stop()
	mgr.Stop()
}

// gatedBackend holds the next alarm log write until release is closed.
type gatedBackend struct {
	*backend.MemoryBackend
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedBackend(b *backend.MemoryBackend) *gatedBackend {
	return &gatedBackend{MemoryBackend: b, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedBackend) CreateAlarmLog(ctx context.Context, log *model.AlarmLog) (*model.AlarmLog, error) {
	if g.armed.CompareAndSwap(true, false) {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.MemoryBackend.CreateAlarmLog(ctx, log)
}

// gatedNotifier holds every notification until release is closed.
type gatedNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedNotifier) Notify(ctx context.Context, ns []*Notification) error {
	g.entered <- struct{}{}
	<-g.release
	return nil
}

func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call blocked behind another alarm's I/O")
	}
}

func (f *fixture) managerWith(t *testing.T, be backend.Backend, notifier Notifier) *AlarmManager {
	opts := DefaultOptions()
	opts.Location = time.UTC
	opts.Now = f.clock.Now
	mgr := NewAlarmManager("p1", be, f.store, notifier, f.storage, opts)
	_, err := mgr.Start(context.Background())
	require.NoError(t, err)
	return mgr
}

func TestManager_SlowLogWriteDoesNotBlockOtherAlarms(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true), dailyAlarm("a2", false))
	f.fireAt(t, fireTime)
	f.mgr.Stop()

	gate := newGatedBackend(f.backend)
	mgr := f.managerWith(t, gate, f.notifier)
	ctx := context.Background()

	gate.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := mgr.ConfirmAlarm(ctx, "a1", model.LogTaken)
		done <- err
	}()
	<-gate.entered

	var (
		other     *Instance
		snoozeErr error
		swept     int
	)
	within(t, time.Second, func() {
		other = mgr.Instance("a2")
		_, snoozeErr = mgr.SnoozeAlarm(ctx, "a2")
		swept = mgr.Sweep(ctx)
	})
	require.NotNil(t, other)
	require.True(t, apperrors.Is(snoozeErr, apperrors.ErrSnoozeNotAllowed))
	require.Zero(t, swept)
	require.NotNil(t, mgr.Instance("a1"), "a1 closes only after its log is written")

	close(gate.release)
	require.NoError(t, <-done)
	require.Nil(t, mgr.Instance("a1"))
	require.Empty(t, f.escalations(t, "a1"))
	require.Len(t, f.logs(t), 1)
}

func TestManager_SlowNotifyDoesNotBlockConfirm(t *testing.T) {
	f := newFixture(t, dailyAlarm("a1", true), dailyAlarm("a2", false))
	f.fireAt(t, fireTime)
	f.mgr.Stop()

	gn := &gatedNotifier{entered: make(chan struct{}, 1), release: make(chan struct{})}
	mgr := f.managerWith(t, f.backend, gn)
	ctx := context.Background()

	fired := make(chan error, 1)
	go func() {
		fired <- mgr.HandleFired(ctx, trigger.Event{
			TriggerID: "a2",
			Payload:   trigger.Payload{AlarmID: "a2", ProfileID: "p1"},
			DueAt:     fireTime.AddDate(0, 0, 1),
			FiredAt:   fireTime.AddDate(0, 0, 1),
		})
	}()
	<-gn.entered

	var (
		log *model.AlarmLog
		err error
	)
	within(t, time.Second, func() {
		log, err = mgr.ConfirmAlarm(ctx, "a1", model.LogTaken)
	})
	require.NoError(t, err)
	require.Equal(t, model.LogTaken, log.Status)
	require.Nil(t, mgr.Instance("a1"))

	close(gn.release)
	require.NoError(t, <-fired)
	require.Equal(t, fireTime.AddDate(0, 0, 1), mgr.Instance("a2").ScheduledAt())
}
