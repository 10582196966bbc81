package alarmmanager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ongniud/medalarm/reminder/model"
	"github.com/ongniud/medalarm/reminder/trigger"
)

// Notification 呈现给用户的一次闹钟通知
type Notification struct {
	AlarmID    string            `json:"alarmId"`
	ProfileID  string            `json:"profileId"`
	InstanceID string            `json:"instanceId"`
	TriggerID  string            `json:"triggerId"`
	State      string            `json:"state"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Channel    trigger.Channel   `json:"channel"`
	Actions    []trigger.Action  `json:"actions,omitempty"`
	Critical   bool              `json:"critical"`
	Repeat     bool              `json:"repeat"`
	Labels     map[string]string `json:"labels"`
	FiredAt    time.Time         `json:"firedAt"`
}

func NewNotification(inst *Instance, ev trigger.Event) *Notification {
	return &Notification{
		AlarmID:    ev.Payload.AlarmID,
		ProfileID:  ev.Payload.ProfileID,
		InstanceID: inst.ID(),
		TriggerID:  ev.TriggerID,
		State:      string(inst.State()),
		Title:      ev.Payload.Title,
		Body:       ev.Payload.Body,
		Channel:    ev.Payload.Channel,
		Actions:    ev.Payload.Actions,
		Critical:   ev.Payload.IsCritical,
		Repeat:     ev.Payload.IsRepeat,
		Labels:     inst.Labels().Map(),
		FiredAt:    ev.FiredAt,
	}
}

// Notifier 定义通知器接口
type Notifier interface {
	Notify(ctx context.Context, notifications []*Notification) error
}

// LogNotifier writes notifications to the log. Used when the daemon runs headless.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (p *LogNotifier) Notify(ctx context.Context, notifications []*Notification) error {
	for _, n := range notifications {
		p.logger.Info(n.Title,
			zap.String("alarm_id", n.AlarmID),
			zap.String("instance_id", n.InstanceID),
			zap.String("trigger_id", n.TriggerID),
			zap.String("state", n.State),
			zap.String("channel", string(n.Channel)),
			zap.String("body", n.Body),
			zap.Bool("repeat", n.Repeat),
			zap.Time("fired_at", n.FiredAt),
		)
	}
	return nil
}

// DecisionEvent is published after an AlarmLog is written.
type DecisionEvent struct {
	AlarmID   string
	ProfileID string
	Status    model.LogStatus
	Log       *model.AlarmLog
}

// Observer is told about every decision so stock and adherence views can refresh.
type Observer interface {
	OnDecision(ctx context.Context, ev DecisionEvent)
}

type ObserverFunc func(ctx context.Context, ev DecisionEvent)

func (f ObserverFunc) OnDecision(ctx context.Context, ev DecisionEvent) { f(ctx, ev) }
