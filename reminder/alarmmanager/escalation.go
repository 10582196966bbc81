package alarmmanager

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ongniud/medalarm/metrics"
	"github.com/ongniud/medalarm/reminder/model"
	"github.com/ongniud/medalarm/reminder/recurrence"
	"github.com/ongniud/medalarm/reminder/trigger"
)

// EscalationID names the escalation of alarmID due at dueAt.
func EscalationID(alarmID string, dueAt time.Time) string {
	return alarmID + "#esc-" + strconv.FormatInt(dueAt.UnixMilli(), 10)
}

// Escalator arms one-shot reminders for unanswered critical alarms.
// Failures are logged and returned, never retried.
type Escalator struct {
	store   trigger.Store
	logger  *zap.Logger
	metrics metrics.Collector
	now     func() time.Time
}

func NewEscalator(store trigger.Store, logger *zap.Logger, mc metrics.Collector, now func() time.Time) *Escalator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mc == nil {
		mc = metrics.NewNopCollector()
	}
	if now == nil {
		now = time.Now
	}
	return &Escalator{store: store, logger: logger.Named("escalator"), metrics: mc, now: now}
}

// Arm schedules an escalation of alarm delay from now.
func (e *Escalator) Arm(ctx context.Context, alarm *model.Alarm, meds []model.Medication, delay time.Duration) (string, time.Time, error) {
	dueAt := e.now().Add(delay)
	id := EscalationID(alarm.ID, dueAt)
	if _, err := e.store.Schedule(ctx, id, recurrence.Once(dueAt), EscalationPayload(alarm, meds)); err != nil {
		e.logger.Error("arm escalation failed", zap.String("alarm_id", alarm.ID), zap.Error(err))
		return "", time.Time{}, err
	}
	e.metrics.IncEscalationArmed()
	e.logger.Info("escalation armed",
		zap.String("alarm_id", alarm.ID),
		zap.String("trigger_id", id),
		zap.Time("due_at", dueAt),
	)
	return id, dueAt, nil
}

// CancelPending cancels every pending escalation of alarmID except keep and
// returns how many were cancelled.
func (e *Escalator) CancelPending(ctx context.Context, alarmID, keep string) (int, error) {
	pending, err := e.store.ListPending(ctx, trigger.MatchAlarm(alarmID, trigger.KindEscalation)...)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range pending {
		if d.ID == keep {
			continue
		}
		if err := e.store.Cancel(ctx, d.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
