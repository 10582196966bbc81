package alarmmanager

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/metrics"
	"github.com/ongniud/medalarm/reminder/model"
	"github.com/ongniud/medalarm/reminder/recurrence"
	"github.com/ongniud/medalarm/reminder/trigger"
	"github.com/ongniud/medalarm/tracing"
)

// SchedulingError reports one plan item, or one whole alarm, that could not be scheduled.
type SchedulingError struct {
	AlarmID   string
	TriggerID string
	Err       error
}

func (e *SchedulingError) Error() string {
	if e.TriggerID == "" {
		return fmt.Sprintf("alarm %s: %v", e.AlarmID, e.Err)
	}
	return fmt.Sprintf("alarm %s trigger %s: %v", e.AlarmID, e.TriggerID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

type SyncReport struct {
	Scheduled        []string
	Failures         []*SchedulingError
	PermissionDenied bool
	Duration         time.Duration
}

// Synchronizer 使待触发集合与启用的闹钟集合保持一致
type Synchronizer struct {
	store   trigger.Store
	logger  *zap.Logger
	metrics metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time

	// 同一 profile 的同步串行执行
	profiles *keyedMutex
}

func NewSynchronizer(store trigger.Store, logger *zap.Logger, mc metrics.Collector, now func() time.Time) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mc == nil {
		mc = metrics.NewNopCollector()
	}
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{
		store:    store,
		logger:   logger.Named("sync"),
		metrics:  mc,
		tracer:   tracing.Tracer(),
		now:      now,
		profiles: newKeyedMutex(),
	}
}

func (s *Synchronizer) permitted(ctx context.Context) bool {
	pr, ok := s.store.(trigger.PermissionRequester)
	if !ok {
		return true
	}
	granted, err := pr.RequestPermissions(ctx)
	if err != nil {
		s.logger.Warn("permission request failed", zap.Error(err))
		return false
	}
	return granted
}

// Sync cancels every pending trigger and schedules the plans of the active alarms.
// Permission denial is reported, not returned. Per-item failures are collected
// and never stop the remaining alarms.
func (s *Synchronizer) Sync(ctx context.Context, profileID string, alarms []model.Alarm, meds []model.Medication) (*SyncReport, error) {
	unlock := s.profiles.lock(profileID)
	defer unlock()

	ctx, span := s.tracer.Start(ctx, "alarmmanager.Sync", trace.WithAttributes(
		attribute.String("profile.id", profileID),
		attribute.Int("alarms", len(alarms)),
	))
	defer span.End()

	start := time.Now()
	report := &SyncReport{}
	defer func() {
		report.Duration = time.Since(start)
		s.metrics.ObserveSync(profileID, report.Duration, len(report.Scheduled), len(report.Failures), report.PermissionDenied)
	}()

	if !s.permitted(ctx) {
		report.PermissionDenied = true
		s.logger.Warn("notification permission denied, alarms stay inert", zap.String("profile_id", profileID))
		return report, nil
	}

	if err := s.store.CancelAll(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel all")
		return report, apperrors.NewAppError(apperrors.ErrScheduleFailed, "cancel pending triggers", err)
	}

	now := s.now()
	for i := range alarms {
		alarm := &alarms[i]
		if !alarm.IsActive {
			continue
		}
		s.scheduleAlarm(ctx, alarm, meds, now, report)
	}
	s.metrics.SetPendingTriggers(len(report.Scheduled))

	span.SetAttributes(
		attribute.Int("scheduled", len(report.Scheduled)),
		attribute.Int("failures", len(report.Failures)),
	)
	s.logger.Info("alarms synchronized",
		zap.String("profile_id", profileID),
		zap.Int("scheduled", len(report.Scheduled)),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

// SyncAlarm replaces the regular triggers of a single alarm, leaving every other
// alarm untouched. An inactive alarm ends with no regular trigger.
func (s *Synchronizer) SyncAlarm(ctx context.Context, alarm *model.Alarm, meds []model.Medication) (*SyncReport, error) {
	unlock := s.profiles.lock(alarm.ProfileID)
	defer unlock()

	report := &SyncReport{}
	start := time.Now()
	defer func() { report.Duration = time.Since(start) }()

	if !s.permitted(ctx) {
		report.PermissionDenied = true
		return report, nil
	}

	pending, err := s.store.ListPending(ctx, trigger.MatchAlarm(alarm.ID, trigger.KindRegular)...)
	if err != nil {
		return report, err
	}
	for _, d := range pending {
		if err := s.store.Cancel(ctx, d.ID); err != nil {
			return report, err
		}
	}
	if alarm.IsActive {
		s.scheduleAlarm(ctx, alarm, meds, s.now(), report)
	}
	return report, nil
}

func (s *Synchronizer) scheduleAlarm(ctx context.Context, alarm *model.Alarm, meds []model.Medication, now time.Time, report *SyncReport) {
	plan, err := recurrence.Resolve(alarm, now)
	if err != nil {
		s.fail(report, &SchedulingError{AlarmID: alarm.ID, Err: err})
		return
	}
	if len(plan) == 0 {
		s.logger.Debug("alarm has no future fire", zap.String("alarm_id", alarm.ID))
		return
	}
	for _, item := range plan {
		id := TriggerID(alarm.ID, item)
		if _, err := s.store.Schedule(ctx, id, item, BuildPayload(alarm, meds, item)); err != nil {
			s.fail(report, &SchedulingError{AlarmID: alarm.ID, TriggerID: id, Err: err})
			continue
		}
		report.Scheduled = append(report.Scheduled, id)
	}
}

func (s *Synchronizer) fail(report *SyncReport, se *SchedulingError) {
	report.Failures = append(report.Failures, se)
	s.metrics.IncScheduleFailure(apperrors.CodeOf(se.Err))
	s.logger.Warn("scheduling failed",
		zap.String("alarm_id", se.AlarmID),
		zap.String("trigger_id", se.TriggerID),
		zap.Error(se.Err),
	)
}
