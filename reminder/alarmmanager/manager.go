package alarmmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/metrics"
	"github.com/ongniud/medalarm/reminder/backend"
	"github.com/ongniud/medalarm/reminder/model"
	"github.com/ongniud/medalarm/reminder/trigger"
	"github.com/ongniud/medalarm/tracing"
)

// Options 闹钟管理器的可选参数
type Options struct {
	// AutoEscalate arms an escalation as soon as a critical alarm fires.
	AutoEscalate bool
	// DefaultRepeatInterval is used for alarms without a repeat interval.
	DefaultRepeatInterval time.Duration
	SweepInterval         time.Duration
	MissedGrace           time.Duration
	Location              *time.Location

	Logger    *zap.Logger
	Metrics   metrics.Collector
	Tracer    trace.Tracer
	Observers []Observer
	Now       func() time.Time
}

func DefaultOptions() Options {
	return Options{
		AutoEscalate:          true,
		DefaultRepeatInterval: model.DefaultRepeatIntervalMinutes * time.Minute,
		SweepInterval:         time.Minute,
		MissedGrace:           30 * time.Minute,
		Location:              time.Local,
	}
}

// ActionEvent 通知按钮被点击
type ActionEvent struct {
	AlarmID   string           `json:"alarmId"`
	TriggerID string           `json:"triggerId,omitempty"`
	Action    trigger.ActionID `json:"action"`
}

// AlarmManager 管理一个 profile 的闹钟: 同步待触发集合, 处理触发、确认、延后和漏服
type AlarmManager struct {
	profileID string
	backend   backend.Backend
	store     trigger.Store
	notifier  Notifier
	storage   Storage

	sync      *Synchronizer
	escalator *Escalator

	opts    Options
	logger  *zap.Logger
	metrics metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time

	// mtx 只保护 instances 映射, 持有期间不做 I/O
	mtx       sync.RWMutex
	instances map[string]*Instance
	// 同一闹钟的触发、确认、延后和漏服串行执行
	alarmLocks *keyedMutex
	persistMtx sync.Mutex

	cacheMtx    sync.RWMutex
	alarms      map[string]model.Alarm
	medications []model.Medication
	medsLoaded  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewAlarmManager(
	profileID string,
	be backend.Backend,
	store trigger.Store,
	notifier Notifier,
	storage Storage,
	opts Options,
) *AlarmManager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNopCollector()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Tracer()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultRepeatInterval <= 0 {
		opts.DefaultRepeatInterval = model.DefaultRepeatIntervalMinutes * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if notifier == nil {
		notifier = NewLogNotifier(opts.Logger)
	}
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}
	loc := opts.Location
	now := func() time.Time { return clock().In(loc) }

	logger := opts.Logger.Named("alarmmanager").With(zap.String("profile_id", profileID))
	return &AlarmManager{
		profileID:  profileID,
		backend:    be,
		store:      store,
		notifier:   notifier,
		storage:    storage,
		sync:       NewSynchronizer(store, opts.Logger, opts.Metrics, now),
		escalator:  NewEscalator(store, opts.Logger, opts.Metrics, now),
		opts:       opts,
		logger:     logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		now:        now,
		instances:  make(map[string]*Instance),
		alarmLocks: newKeyedMutex(),
		alarms:     make(map[string]model.Alarm),
		stop:       make(chan struct{}),
	}
}

// Start 恢复未决实例并重新同步
func (m *AlarmManager) Start(ctx context.Context) (*SyncReport, error) {
	if err := m.restoreInstances(); err != nil {
		return nil, fmt.Errorf("failed to restore instances: %w", err)
	}
	return m.Resync(ctx)
}

// Run 启动漏服扫描循环
func (m *AlarmManager) Run(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("alarm manager started", zap.Duration("sweep_interval", m.opts.SweepInterval))
}

// Stop 停止扫描并保存未决实例
func (m *AlarmManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.persist()
	m.logger.Info("alarm manager stopped")
}

func (m *AlarmManager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Resync reloads the profile from the backend, rebuilds the pending trigger
// set and re-arms the escalations of open critical instances.
func (m *AlarmManager) Resync(ctx context.Context) (*SyncReport, error) {
	alarms, err := m.backend.Alarms(ctx, m.profileID)
	if err != nil {
		return nil, err
	}
	meds, err := m.backend.Medications(ctx, m.profileID)
	if err != nil {
		return nil, err
	}
	m.refreshCache(alarms, meds)

	report, err := m.sync.Sync(ctx, m.profileID, alarms, meds)
	if err != nil || report.PermissionDenied {
		return report, err
	}
	m.rearmEscalations(ctx, alarms, meds)
	return report, nil
}

func (m *AlarmManager) refreshCache(alarms []model.Alarm, meds []model.Medication) {
	m.cacheMtx.Lock()
	defer m.cacheMtx.Unlock()
	m.alarms = make(map[string]model.Alarm, len(alarms))
	for _, a := range alarms {
		m.alarms[a.ID] = a
	}
	m.medications = meds
	m.medsLoaded = true
}

// rearmEscalations 全量同步会取消所有触发器, 这里恢复仍在升级中的实例
func (m *AlarmManager) rearmEscalations(ctx context.Context, alarms []model.Alarm, meds []model.Medication) {
	active := make(map[string]*model.Alarm, len(alarms))
	for i := range alarms {
		if alarms[i].IsActive {
			active[alarms[i].ID] = &alarms[i]
		}
	}
	for _, inst := range m.Instances() {
		m.rearm(ctx, inst, active[inst.AlarmID()], meds)
	}
	m.persist()
}

func (m *AlarmManager) rearm(ctx context.Context, inst *Instance, alarm *model.Alarm, meds []model.Medication) {
	alarmID := inst.AlarmID()
	unlock := m.alarmLocks.lock(alarmID)
	defer unlock()

	if m.Instance(alarmID) != inst {
		return
	}
	if alarm == nil {
		m.logger.Info("discarding instance of removed alarm", zap.String("alarm_id", alarmID))
		m.removeInstance(inst)
		return
	}
	id, dueAt := inst.Escalation()
	if id == "" {
		return
	}
	delay := dueAt.Sub(m.now())
	if delay <= 0 {
		delay = m.repeatInterval(alarm)
	}
	newID, newDue, err := m.escalator.Arm(ctx, alarm, meds, delay)
	if err != nil {
		inst.ClearEscalation()
		return
	}
	inst.SetEscalation(newID, newDue)
}

func (m *AlarmManager) repeatInterval(alarm *model.Alarm) time.Duration {
	if alarm.RepeatIntervalMinutes <= 0 {
		return m.opts.DefaultRepeatInterval
	}
	return alarm.RepeatInterval()
}

// CreateAlarm 创建闹钟并重新同步
func (m *AlarmManager) CreateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error) {
	if alarm.ProfileID == "" {
		alarm.ProfileID = m.profileID
	}
	if err := alarm.Validate(); err != nil {
		return nil, err
	}
	created, err := m.backend.CreateAlarm(ctx, alarm)
	if err != nil {
		return nil, err
	}
	if _, err := m.Resync(ctx); err != nil {
		return created, err
	}
	return created, nil
}

func (m *AlarmManager) UpdateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error) {
	if err := alarm.Validate(); err != nil {
		return nil, err
	}
	updated, err := m.backend.UpdateAlarm(ctx, alarm)
	if err != nil {
		return nil, err
	}
	if _, err := m.Resync(ctx); err != nil {
		return updated, err
	}
	return updated, nil
}

func (m *AlarmManager) DeleteAlarm(ctx context.Context, id string) error {
	if err := m.backend.DeleteAlarm(ctx, id); err != nil {
		return err
	}
	_, err := m.Resync(ctx)
	return err
}

// ToggleActive 启用或停用闹钟, 停用后其触发器全部移除
func (m *AlarmManager) ToggleActive(ctx context.Context, id string, active bool) (*model.Alarm, error) {
	alarm, err := m.backend.Alarm(ctx, id)
	if err != nil {
		return nil, err
	}
	alarm.IsActive = active
	return m.UpdateAlarm(ctx, alarm)
}

func (m *AlarmManager) lookupAlarm(ctx context.Context, id string) (*model.Alarm, error) {
	m.cacheMtx.RLock()
	a, ok := m.alarms[id]
	m.cacheMtx.RUnlock()
	if ok {
		return a.Clone(), nil
	}
	return m.backend.Alarm(ctx, id)
}

func (m *AlarmManager) lookupMedications(ctx context.Context) []model.Medication {
	m.cacheMtx.RLock()
	meds, loaded := m.medications, m.medsLoaded
	m.cacheMtx.RUnlock()
	if loaded {
		return meds
	}
	meds, err := m.backend.Medications(ctx, m.profileID)
	if err != nil {
		m.logger.Warn("medications unavailable", zap.Error(err))
		return nil
	}
	return meds
}

// HandleFired 处理一次触发: 呈现通知, 关键闹钟进入升级
func (m *AlarmManager) HandleFired(ctx context.Context, ev trigger.Event) error {
	ctx, span := m.tracer.Start(ctx, "alarmmanager.HandleFired", trace.WithAttributes(
		attribute.String("alarm.id", ev.Payload.AlarmID),
		attribute.String("trigger.id", ev.TriggerID),
		attribute.Bool("repeat", ev.Payload.IsRepeat),
	))
	defer span.End()

	events, err := m.fire(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open instance")
		return err
	}
	m.publish(ctx, events)
	return nil
}

// fire 持有闹钟锁处理触发, 返回被关闭的上一个实例的漏服事件
func (m *AlarmManager) fire(ctx context.Context, ev trigger.Event) ([]DecisionEvent, error) {
	alarmID := ev.Payload.AlarmID
	unlock := m.alarmLocks.lock(alarmID)
	defer unlock()

	alarm, err := m.lookupAlarm(ctx, alarmID)
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound) || (err == nil && !alarm.IsActive):
		m.dismissStale(ctx, alarmID, ev.TriggerID)
		return nil, nil
	case err != nil:
		m.logger.Warn("alarm lookup failed, presenting from payload",
			zap.String("alarm_id", alarmID), zap.Error(err))
		alarm = alarmFromPayload(ev.Payload)
	}
	meds := m.lookupMedications(ctx)

	var (
		inst   *Instance
		events []DecisionEvent
	)
	if ev.Payload.IsRepeat {
		inst = m.refire(ctx, alarm, ev)
	} else {
		inst, events, err = m.open(ctx, alarm, ev)
		if err != nil {
			return events, err
		}
	}
	if inst == nil {
		return events, nil
	}

	if err := m.notifier.Notify(ctx, []*Notification{NewNotification(inst, ev)}); err != nil {
		m.logger.Error("notify failed", zap.String("alarm_id", alarmID), zap.Error(err))
	}

	// 升级提醒到期仍未确认时重新布置, 直到确认或漏服
	if inst.Kind() == KindCritical && (ev.Payload.IsRepeat || m.opts.AutoEscalate) {
		m.escalate(ctx, inst, alarm, meds)
	}
	m.persist()
	return events, nil
}

func alarmFromPayload(p trigger.Payload) *model.Alarm {
	return &model.Alarm{
		ID:            p.AlarmID,
		ProfileID:     p.ProfileID,
		MedicationIDs: append([]string(nil), p.MedicationIDs...),
		IsCritical:    p.IsCritical,
		IsActive:      true,
	}
}

// dismissStale 触发引用了已删除或已停用的闹钟
func (m *AlarmManager) dismissStale(ctx context.Context, alarmID, triggerID string) {
	m.metrics.IncStaleFire()
	m.logger.Info("dismissing stale fire",
		zap.String("alarm_id", alarmID),
		zap.String("trigger_id", triggerID),
		zap.Error(apperrors.Errorf(apperrors.ErrStaleAlarmReference, "alarm %s", alarmID)),
	)
	pending, err := m.store.ListPending(ctx, trigger.MatchAlarm(alarmID, "")...)
	if err != nil {
		m.logger.Warn("list stale triggers failed", zap.Error(err))
	}
	for _, d := range pending {
		if err := m.store.Cancel(ctx, d.ID); err != nil {
			m.logger.Warn("cancel stale trigger failed", zap.String("trigger_id", d.ID), zap.Error(err))
		}
	}

	m.mtx.Lock()
	delete(m.instances, alarmID)
	m.mtx.Unlock()
	m.persist()
}

// open 打开新实例, 仍未决的上一个实例先记为漏服
func (m *AlarmManager) open(ctx context.Context, alarm *model.Alarm, ev trigger.Event) (*Instance, []DecisionEvent, error) {
	var events []DecisionEvent
	if prev := m.openInstance(alarm.ID); prev != nil {
		if log, err := m.miss(ctx, prev, ev.FiredAt); err != nil {
			m.logger.Warn("closing previous instance failed", zap.String("alarm_id", alarm.ID), zap.Error(err))
		} else {
			events = append(events, DecisionEvent{AlarmID: alarm.ID, ProfileID: log.ProfileID, Status: model.LogMissed, Log: log})
		}
		if _, err := m.escalator.CancelPending(ctx, alarm.ID, ""); err != nil {
			m.logger.Warn("cancel escalations failed", zap.String("alarm_id", alarm.ID), zap.Error(err))
		}
		m.removeInstance(prev)
	}
	inst, err := NewInstance(alarm, ev.DueAt, ev.FiredAt)
	if err != nil {
		return nil, events, err
	}
	m.mtx.Lock()
	m.instances[alarm.ID] = inst
	m.mtx.Unlock()
	return inst, events, nil
}

// refire 升级提醒到期, 实例回到 fired
func (m *AlarmManager) refire(ctx context.Context, alarm *model.Alarm, ev trigger.Event) *Instance {
	inst := m.openInstance(alarm.ID)
	if inst == nil {
		m.logger.Debug("escalation without open instance", zap.String("alarm_id", alarm.ID))
		return nil
	}
	if id, _ := inst.Escalation(); id == ev.TriggerID {
		inst.ClearEscalation()
	}
	if inst.Can(EventRefire) {
		if err := inst.Event(ctx, EventRefire, ev.FiredAt); err != nil {
			m.logger.Warn("refire failed", zap.String("alarm_id", alarm.ID), zap.Error(err))
		}
	}
	return inst
}

func (m *AlarmManager) escalate(ctx context.Context, inst *Instance, alarm *model.Alarm, meds []model.Medication) {
	id, dueAt, err := m.escalator.Arm(ctx, alarm, meds, m.repeatInterval(alarm))
	if err != nil {
		return
	}
	inst.SetEscalation(id, dueAt)
	if !inst.Can(EventEscalate) {
		return
	}
	if err := inst.Event(ctx, EventEscalate, m.now()); err != nil {
		m.logger.Warn("escalate failed", zap.String("alarm_id", alarm.ID), zap.Error(err))
	}
}

// miss 写入漏服记录后关闭实例, 写入失败时实例保持不变. 调用方持有闹钟锁
func (m *AlarmManager) miss(ctx context.Context, inst *Instance, now time.Time) (*model.AlarmLog, error) {
	alarm := inst.Alarm()
	log, err := m.backend.CreateAlarmLog(ctx, &model.AlarmLog{
		ID:            uuid.NewString(),
		AlarmID:       alarm.ID,
		MedicationIDs: alarm.MedicationIDs,
		ProfileID:     alarm.ProfileID,
		ScheduledTime: inst.ScheduledAt(),
		Status:        model.LogMissed,
	})
	if err != nil {
		return nil, err
	}
	if err := inst.Event(ctx, EventMiss, now); err != nil {
		return nil, err
	}
	inst.ClearEscalation()
	m.metrics.IncDecision(string(model.LogMissed))
	return log, nil
}

// ConfirmAlarm 记录服用或跳过. 记录写入失败时状态不变, 升级提醒保持
func (m *AlarmManager) ConfirmAlarm(ctx context.Context, alarmID string, decision model.LogStatus) (*model.AlarmLog, error) {
	event, ok := map[model.LogStatus]string{model.LogTaken: EventTake, model.LogSkipped: EventSkip}[decision]
	if !ok {
		return nil, apperrors.Errorf(apperrors.ErrAlarmInvalid, "decision %q cannot be confirmed", decision)
	}

	ctx, span := m.tracer.Start(ctx, "alarmmanager.ConfirmAlarm", trace.WithAttributes(
		attribute.String("alarm.id", alarmID),
		attribute.String("decision", string(decision)),
	))
	defer span.End()

	unlock := m.alarmLocks.lock(alarmID)
	log, err := m.confirm(ctx, alarmID, decision, event)
	unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write alarm log")
		return nil, err
	}

	m.publish(ctx, []DecisionEvent{{AlarmID: alarmID, ProfileID: log.ProfileID, Status: decision, Log: log}})
	return log, nil
}

// confirm 调用方持有闹钟锁; 写记录期间不持有 mtx
func (m *AlarmManager) confirm(ctx context.Context, alarmID string, decision model.LogStatus, event string) (*model.AlarmLog, error) {
	now := m.now()
	inst := m.openInstance(alarmID)

	var alarm *model.Alarm
	scheduled := now
	if inst != nil {
		alarm = inst.Alarm()
		scheduled = inst.ScheduledAt()
	} else {
		var err error
		if alarm, err = m.lookupAlarm(ctx, alarmID); err != nil {
			return nil, err
		}
	}

	log, err := m.backend.CreateAlarmLog(ctx, &model.AlarmLog{
		ID:            uuid.NewString(),
		AlarmID:       alarm.ID,
		MedicationIDs: alarm.MedicationIDs,
		ProfileID:     alarm.ProfileID,
		ScheduledTime: scheduled,
		ConfirmedTime: &now,
		Status:        decision,
	})
	if err != nil {
		m.logger.Error("alarm log write failed", zap.String("alarm_id", alarmID), zap.Error(err))
		if apperrors.CodeOf(err) == "" {
			err = apperrors.NewAppError(apperrors.ErrNetworkFailure, "write alarm log", err)
		}
		return nil, err
	}

	if inst != nil {
		if err := inst.Event(ctx, event, now); err != nil {
			m.logger.Warn("confirm transition failed", zap.String("alarm_id", alarmID), zap.Error(err))
		}
		inst.ClearEscalation()
		m.removeInstance(inst)
	}
	if _, err := m.escalator.CancelPending(ctx, alarmID, ""); err != nil {
		m.logger.Warn("cancel escalations failed", zap.String("alarm_id", alarmID), zap.Error(err))
	}
	m.metrics.IncDecision(string(decision))
	m.persist()
	return log, nil
}

// SnoozeAlarm 延后关键闹钟, 返回新的升级触发器 id
func (m *AlarmManager) SnoozeAlarm(ctx context.Context, alarmID string) (string, error) {
	unlock := m.alarmLocks.lock(alarmID)
	defer unlock()

	inst := m.openInstance(alarmID)
	if inst == nil {
		return "", apperrors.Errorf(apperrors.ErrNoOpenInstance, "alarm %s has no open instance", alarmID)
	}
	if inst.Kind() != KindCritical {
		return "", apperrors.Errorf(apperrors.ErrSnoozeNotAllowed, "alarm %s is not critical", alarmID)
	}

	alarm := inst.Alarm()
	id, dueAt, err := m.escalator.Arm(ctx, alarm, m.lookupMedications(ctx), m.repeatInterval(alarm))
	if err != nil {
		return "", err
	}
	if _, err := m.escalator.CancelPending(ctx, alarmID, id); err != nil {
		m.logger.Warn("cancel older escalations failed", zap.String("alarm_id", alarmID), zap.Error(err))
	}
	inst.SetEscalation(id, dueAt)
	if inst.Can(EventSnooze) {
		if err := inst.Event(ctx, EventSnooze, m.now()); err != nil {
			return "", err
		}
	}
	m.persist()
	return id, nil
}

// HandleAction 把通知按钮映射到确认或延后
func (m *AlarmManager) HandleAction(ctx context.Context, action ActionEvent) error {
	switch action.Action {
	case trigger.ActionTaken:
		_, err := m.ConfirmAlarm(ctx, action.AlarmID, model.LogTaken)
		return err
	case trigger.ActionSkip:
		_, err := m.ConfirmAlarm(ctx, action.AlarmID, model.LogSkipped)
		return err
	case trigger.ActionSnooze:
		_, err := m.SnoozeAlarm(ctx, action.AlarmID)
		return err
	}
	return apperrors.Errorf(apperrors.ErrAlarmInvalid, "unknown action %q", action.Action)
}

// Sweep closes as missed every instance left unanswered past the grace period
// and returns how many were closed. An instance whose log cannot be written is
// kept for the next sweep.
func (m *AlarmManager) Sweep(ctx context.Context) int {
	now := m.now()
	var events []DecisionEvent
	for _, inst := range m.Instances() {
		if !m.overdue(inst, now) {
			continue
		}
		if ev, ok := m.sweepOne(ctx, inst, now); ok {
			events = append(events, ev)
		}
	}
	if len(events) > 0 {
		m.persist()
		m.logger.Info("missed alarms swept", zap.Int("count", len(events)))
	}
	m.publish(ctx, events)
	return len(events)
}

func (m *AlarmManager) sweepOne(ctx context.Context, inst *Instance, now time.Time) (DecisionEvent, bool) {
	alarmID := inst.AlarmID()
	unlock := m.alarmLocks.lock(alarmID)
	defer unlock()

	// 等锁期间实例可能已被确认或替换
	if m.openInstance(alarmID) != inst || !m.overdue(inst, now) {
		return DecisionEvent{}, false
	}
	log, err := m.miss(ctx, inst, now)
	if err != nil {
		m.logger.Warn("missed log write failed, retrying on next sweep",
			zap.String("alarm_id", alarmID), zap.Error(err))
		return DecisionEvent{}, false
	}
	if _, err := m.escalator.CancelPending(ctx, alarmID, ""); err != nil {
		m.logger.Warn("cancel escalations failed", zap.String("alarm_id", alarmID), zap.Error(err))
	}
	m.removeInstance(inst)
	return DecisionEvent{AlarmID: alarmID, ProfileID: log.ProfileID, Status: model.LogMissed, Log: log}, true
}

func (m *AlarmManager) overdue(inst *Instance, now time.Time) bool {
	snap := inst.Snapshot()
	switch State(snap.State) {
	case StateFired:
		return snap.LastFiredAt.Add(m.opts.MissedGrace).Before(now)
	case StateEscalating:
		_, dueAt := inst.Escalation()
		if dueAt.IsZero() {
			dueAt = snap.LastFiredAt
		}
		return dueAt.Add(m.opts.MissedGrace).Before(now)
	}
	return false
}

func (m *AlarmManager) publish(ctx context.Context, events []DecisionEvent) {
	for _, ev := range events {
		for _, o := range m.opts.Observers {
			o.OnDecision(ctx, ev)
		}
	}
}

// Instance returns the open instance of alarmID, or nil.
func (m *AlarmManager) Instance(alarmID string) *Instance {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.instances[alarmID]
}

// openInstance 返回未结束的实例
func (m *AlarmManager) openInstance(alarmID string) *Instance {
	inst := m.Instance(alarmID)
	if inst == nil || inst.State().Terminal() {
		return nil
	}
	return inst
}

// removeInstance 仅当 inst 仍是该闹钟的当前实例时移除
func (m *AlarmManager) removeInstance(inst *Instance) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.instances[inst.AlarmID()] == inst {
		delete(m.instances, inst.AlarmID())
	}
}

// Instances returns the open instances ordered by alarm id.
func (m *AlarmManager) Instances() []*Instance {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.sortedLocked()
}

func (m *AlarmManager) sortedLocked() []*Instance {
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AlarmID() < out[j].AlarmID() })
	return out
}

func (m *AlarmManager) restoreInstances() error {
	if m.storage == nil {
		return nil
	}
	instances, err := m.storage.LoadInstances(m.profileID)
	if err != nil {
		return err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.instances = make(map[string]*Instance, len(instances))
	for _, inst := range instances {
		if inst.State().Terminal() {
			continue
		}
		m.instances[inst.AlarmID()] = inst
	}
	m.logger.Info("instances restored", zap.Int("count", len(m.instances)))
	return nil
}

// persist 保存未决实例; persistMtx 保证较新的快照最后写入
func (m *AlarmManager) persist() {
	if m.storage == nil {
		return
	}
	m.persistMtx.Lock()
	defer m.persistMtx.Unlock()
	if err := m.storage.SaveInstances(m.profileID, m.Instances()); err != nil {
		m.logger.Error("failed to save instances", zap.Error(err))
	}
}
