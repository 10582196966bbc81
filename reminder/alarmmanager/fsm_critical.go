package alarmmanager

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

// CriticalFsm 关键闹钟状态机
//
//	fired --escalate/snooze--> escalating --refire--> fired
//	fired|escalating --take/skip/miss--> taken|skipped|missed
type CriticalFsm struct {
	*machine
}

func NewCriticalFsm(firedAt time.Time) *CriticalFsm {
	open := []string{string(StateFired), string(StateEscalating)}
	events := fsm.Events{
		{Name: EventEscalate, Src: []string{string(StateFired)}, Dst: string(StateEscalating)},
		{Name: EventSnooze, Src: []string{string(StateFired)}, Dst: string(StateEscalating)},
		{Name: EventRefire, Src: []string{string(StateEscalating)}, Dst: string(StateFired)},
		{Name: EventTake, Src: open, Dst: string(StateTaken)},
		{Name: EventSkip, Src: open, Dst: string(StateSkipped)},
		{Name: EventMiss, Src: open, Dst: string(StateMissed)},
	}
	c := &CriticalFsm{machine: newMachine(events, firedAt)}
	c.callbacks["enter_"+string(StateEscalating)] = func(_ context.Context, e *fsm.Event) {
		c.escalations++
	}
	c.callbacks["after_"+EventRefire] = func(_ context.Context, e *fsm.Event) {
		c.fires++
		c.lastFiredAt = eventTime(e)
	}
	c.fsm = fsm.NewFSM(string(StateFired), c.events, c.callbacks)
	return c
}
