package alarmmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/ongniud/medalarm/reminder/model"
)

// State 已触发实例的状态
type State string

const (
	StateFired      State = "fired"
	StateEscalating State = "escalating"
	StateTaken      State = "taken"
	StateSkipped    State = "skipped"
	StateMissed     State = "missed"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateTaken, StateSkipped, StateMissed:
		return true
	}
	return false
}

// 事件定义
const (
	EventEscalate = "escalate"
	EventSnooze   = "snooze"
	EventRefire   = "refire"
	EventTake     = "take"
	EventSkip     = "skip"
	EventMiss     = "miss"
)

type Kind string

const (
	KindBasic    Kind = "basic"
	KindCritical Kind = "critical"
)

func KindOf(alarm *model.Alarm) Kind {
	if alarm.IsCritical {
		return KindCritical
	}
	return KindBasic
}

// Snapshot 用于状态持久化
type Snapshot struct {
	State          string              `json:"state"`
	FiredAt        time.Time           `json:"firedAt"`
	LastFiredAt    time.Time           `json:"lastFiredAt"`
	Fires          int                 `json:"fires"`
	Escalations    int                 `json:"escalations,omitempty"`
	DecidedAt      time.Time           `json:"decidedAt"`
	StateEnteredAt map[State]time.Time `json:"stateEnteredAt"`
}

type IFsm interface {
	Event(ctx context.Context, event string, ts time.Time) error
	Can(event string) bool
	State() State
	Snapshot() Snapshot
	Restore(snap Snapshot) error
}

func NewFsm(kind Kind, firedAt time.Time) (IFsm, error) {
	switch kind {
	case KindBasic:
		return NewBasicFsm(firedAt), nil
	case KindCritical:
		return NewCriticalFsm(firedAt), nil
	default:
		return nil, fmt.Errorf("unsupported instance kind: %s", kind)
	}
}

// machine 两种状态机共用的部分, 事件表由具体类型提供
type machine struct {
	fsm *fsm.FSM

	firedAt        time.Time
	lastFiredAt    time.Time
	fires          int
	escalations    int
	decidedAt      time.Time
	stateEnteredAt map[State]time.Time

	events    fsm.Events
	callbacks fsm.Callbacks
}

func newMachine(events fsm.Events, firedAt time.Time) *machine {
	m := &machine{
		events:         events,
		firedAt:        firedAt,
		lastFiredAt:    firedAt,
		fires:          1,
		stateEnteredAt: map[State]time.Time{StateFired: firedAt},
	}
	m.callbacks = fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			ts := eventTime(e)
			m.stateEnteredAt[State(e.Dst)] = ts
			if State(e.Dst).Terminal() {
				m.decidedAt = ts
			}
		},
	}
	m.fsm = fsm.NewFSM(string(StateFired), m.events, m.callbacks)
	return m
}

// eventTime 事件时间通过 Event 的第一个参数传入
func eventTime(e *fsm.Event) time.Time {
	if len(e.Args) > 0 {
		if ts, ok := e.Args[0].(time.Time); ok {
			return ts
		}
	}
	return time.Now()
}

func (m *machine) Event(ctx context.Context, event string, ts time.Time) error {
	if err := m.fsm.Event(ctx, event, ts); err != nil {
		return fmt.Errorf("%s from %s: %w", event, m.fsm.Current(), err)
	}
	return nil
}

func (m *machine) Can(event string) bool {
	return m.fsm.Can(event)
}

func (m *machine) State() State {
	return State(m.fsm.Current())
}

func (m *machine) Snapshot() Snapshot {
	entered := make(map[State]time.Time, len(m.stateEnteredAt))
	for k, v := range m.stateEnteredAt {
		entered[k] = v
	}
	return Snapshot{
		State:          m.fsm.Current(),
		FiredAt:        m.firedAt,
		LastFiredAt:    m.lastFiredAt,
		Fires:          m.fires,
		Escalations:    m.escalations,
		DecidedAt:      m.decidedAt,
		StateEnteredAt: entered,
	}
}

func (m *machine) Restore(snap Snapshot) error {
	m.firedAt = snap.FiredAt
	m.lastFiredAt = snap.LastFiredAt
	m.fires = snap.Fires
	m.escalations = snap.Escalations
	m.decidedAt = snap.DecidedAt
	m.stateEnteredAt = make(map[State]time.Time, len(snap.StateEnteredAt))
	for k, v := range snap.StateEnteredAt {
		m.stateEnteredAt[k] = v
	}
	// FSM需要重建以保证状态一致性
	m.fsm = fsm.NewFSM(snap.State, m.events, m.callbacks)
	return nil
}
