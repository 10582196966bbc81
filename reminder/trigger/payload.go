package trigger

import (
	"time"

	"github.com/prometheus/prometheus/model/labels"

	"github.com/ongniud/medalarm/reminder/recurrence"
)

// Channel is the notification channel a trigger is posted on.
type Channel string

const (
	ChannelDefault  Channel = "medication_alarms"
	ChannelCritical Channel = "critical_alarms" // bypasses do-not-disturb
)

const CategoryMedicationAlarm = "MEDICATION_ALARM"

type ActionID string

const (
	ActionTaken  ActionID = "taken"
	ActionSkip   ActionID = "skip"
	ActionSnooze ActionID = "snooze"
)

// Action is a notification button routed straight into the acknowledgement flow.
type Action struct {
	ID    ActionID `json:"id"`
	Label string   `json:"label"`
}

// Payload 通知内容以及触发后回传给确认流程的数据
type Payload struct {
	AlarmID       string   `json:"alarmId"`
	ProfileID     string   `json:"profileId"`
	MedicationIDs []string `json:"medicationIds"`
	IsCritical    bool     `json:"isCritical"`
	IsRepeat      bool     `json:"isRepeat,omitempty"`
	SpecificDate  string   `json:"specificDate,omitempty"`

	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Channel  Channel  `json:"channel"`
	Category string   `json:"category"`
	Actions  []Action `json:"actions,omitempty"`
}

// Descriptor describes one pending trigger.
type Descriptor struct {
	ID          string          `json:"id"`
	Handle      string          `json:"handle"`
	Labels      labels.Labels   `json:"labels"`
	Spec        recurrence.Item `json:"spec"`
	Payload     Payload         `json:"payload"`
	NextFireAt  time.Time       `json:"nextFireAt"`
	ScheduledAt time.Time       `json:"scheduledAt"`
}

// Event is produced when a pending trigger fires.
type Event struct {
	TriggerID string    `json:"triggerId"`
	Payload   Payload   `json:"payload"`
	DueAt     time.Time `json:"dueAt"`
	FiredAt   time.Time `json:"firedAt"`
}

// Label names carried by every descriptor.
const (
	LabelTriggerID = "trigger_id"
	LabelAlarmID   = "alarm_id"
	LabelProfileID = "profile_id"
	LabelKind      = "kind"

	KindRegular    = "regular"
	KindEscalation = "escalation"
)

// LabelsFor builds the descriptor labels of a trigger.
func LabelsFor(id string, p Payload) labels.Labels {
	kind := KindRegular
	if p.IsRepeat {
		kind = KindEscalation
	}
	return labels.FromStrings(
		LabelTriggerID, id,
		LabelAlarmID, p.AlarmID,
		LabelProfileID, p.ProfileID,
		LabelKind, kind,
	)
}

// MatchAlarm selects the triggers of one alarm, optionally of one kind.
func MatchAlarm(alarmID, kind string) []*labels.Matcher {
	ms := []*labels.Matcher{labels.MustNewMatcher(labels.MatchEqual, LabelAlarmID, alarmID)}
	if kind != "" {
		ms = append(ms, labels.MustNewMatcher(labels.MatchEqual, LabelKind, kind))
	}
	return ms
}

func matches(lbs labels.Labels, matchers []*labels.Matcher) bool {
	for _, m := range matchers {
		if !m.Matches(lbs.Get(m.Name)) {
			return false
		}
	}
	return true
}
