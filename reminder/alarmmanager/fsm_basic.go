package alarmmanager

import (
	"time"

	"github.com/looplab/fsm"
)

// BasicFsm 普通闹钟: 触发后只能被确认、跳过或判定为漏服, 不会升级
type BasicFsm struct {
	*machine
}

func NewBasicFsm(firedAt time.Time) *BasicFsm {
	events := fsm.Events{
		{Name: EventTake, Src: []string{string(StateFired)}, Dst: string(StateTaken)},
		{Name: EventSkip, Src: []string{string(StateFired)}, Dst: string(StateSkipped)},
		{Name: EventMiss, Src: []string{string(StateFired)}, Dst: string(StateMissed)},
	}
	return &BasicFsm{machine: newMachine(events, firedAt)}
}
