package alarmmanager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/prometheus/model/labels"

	"github.com/ongniud/medalarm/reminder/model"
	"github.com/ongniud/medalarm/reminder/trigger"
)

// Instance 一次已触发但尚未决定的闹钟, 每个闹钟最多一个
type Instance struct {
	mtx sync.RWMutex

	id          string
	labels      labels.Labels
	kind        Kind
	alarm       *model.Alarm
	scheduledAt time.Time

	escalationID    string
	escalationDueAt time.Time

	fsm IFsm
}

// NewInstance opens an instance for alarm. scheduledAt is the instant the
// trigger was due, firedAt the instant it was delivered.
func NewInstance(alarm *model.Alarm, scheduledAt, firedAt time.Time) (*Instance, error) {
	kind := KindOf(alarm)
	f, err := NewFsm(kind, firedAt)
	if err != nil {
		return nil, err
	}
	return &Instance{
		id: uuid.NewString(),
		labels: labels.FromStrings(
			trigger.LabelAlarmID, alarm.ID,
			trigger.LabelProfileID, alarm.ProfileID,
		),
		kind:        kind,
		alarm:       alarm.Clone(),
		scheduledAt: scheduledAt,
		fsm:         f,
	}, nil
}

func (i *Instance) ID() string { return i.id }

func (i *Instance) AlarmID() string {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.labels.Get(trigger.LabelAlarmID)
}

func (i *Instance) Labels() labels.Labels {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.labels
}

func (i *Instance) Kind() Kind {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.kind
}

// Alarm returns a copy of the alarm as it was when the instance opened.
func (i *Instance) Alarm() *model.Alarm {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.alarm.Clone()
}

func (i *Instance) ScheduledAt() time.Time {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.scheduledAt
}

func (i *Instance) Event(ctx context.Context, event string, ts time.Time) error {
	i.mtx.Lock()
	defer i.mtx.Unlock()
	return i.fsm.Event(ctx, event, ts)
}

func (i *Instance) Can(event string) bool {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.fsm.Can(event)
}

func (i *Instance) State() State {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.fsm.State()
}

func (i *Instance) Snapshot() Snapshot {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.fsm.Snapshot()
}

// Escalation returns the pending escalation trigger, if any.
func (i *Instance) Escalation() (id string, dueAt time.Time) {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return i.escalationID, i.escalationDueAt
}

func (i *Instance) SetEscalation(id string, dueAt time.Time) {
	i.mtx.Lock()
	defer i.mtx.Unlock()
	i.escalationID = id
	i.escalationDueAt = dueAt
}

func (i *Instance) ClearEscalation() {
	i.SetEscalation("", time.Time{})
}

type instancePersisted struct {
	ID              string        `json:"id"`
	Labels          labels.Labels `json:"labels"`
	Kind            Kind          `json:"kind"`
	Alarm           *model.Alarm  `json:"alarm"`
	ScheduledAt     time.Time     `json:"scheduledAt"`
	EscalationID    string        `json:"escalationId,omitempty"`
	EscalationDueAt time.Time     `json:"escalationDueAt"`
	Snapshot        Snapshot      `json:"machine"`
}

func (i *Instance) Marshal() ([]byte, error) {
	i.mtx.RLock()
	defer i.mtx.RUnlock()
	return json.Marshal(instancePersisted{
		ID:              i.id,
		Labels:          i.labels,
		Kind:            i.kind,
		Alarm:           i.alarm,
		ScheduledAt:     i.scheduledAt,
		EscalationID:    i.escalationID,
		EscalationDueAt: i.escalationDueAt,
		Snapshot:        i.fsm.Snapshot(),
	})
}

func (i *Instance) Restore(data []byte) error {
	var persisted instancePersisted
	if err := json.Unmarshal(data, &persisted); err != nil {
		return err
	}
	f, err := NewFsm(persisted.Kind, persisted.Snapshot.FiredAt)
	if err != nil {
		return err
	}
	if err := f.Restore(persisted.Snapshot); err != nil {
		return err
	}

	i.mtx.Lock()
	defer i.mtx.Unlock()
	i.id = persisted.ID
	i.labels = persisted.Labels
	i.kind = persisted.Kind
	i.alarm = persisted.Alarm
	if i.alarm == nil {
		i.alarm = &model.Alarm{ID: persisted.Labels.Get(trigger.LabelAlarmID), ProfileID: persisted.Labels.Get(trigger.LabelProfileID)}
	}
	i.scheduledAt = persisted.ScheduledAt
	i.escalationID = persisted.EscalationID
	i.escalationDueAt = persisted.EscalationDueAt
	i.fsm = f
	return nil
}
