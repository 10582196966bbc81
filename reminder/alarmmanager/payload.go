package alarmmanager

import (
	"fmt"
	"strings"
	"time"

	"github.com/ongniud/medalarm/reminder/model"
	"github.com/ongniud/medalarm/reminder/recurrence"
	"github.com/ongniud/medalarm/reminder/trigger"
)

// 通知文案
const (
	TitleRegular    = "💊 Hora do Medicamento"
	TitleCritical   = "🔴 ALARME CRÍTICO!"
	TitleEscalation = "🔴 LEMBRETE CRÍTICO"

	FallbackBody     = "Hora de tomar seus medicamentos"
	EscalationPrefix = "Você ainda precisa tomar: "

	LabelTaken = "Já Tomei"
	LabelSkip  = "Pular"
)

// TriggerID derives the trigger id of one plan item of alarmID.
func TriggerID(alarmID string, item recurrence.Item) string {
	if d := item.Discriminator(); d != "" {
		return alarmID + "#" + d
	}
	return alarmID
}

// MedicationLine renders "name (dosage)", or just the name without a dosage.
func MedicationLine(m model.Medication) string {
	if m.Dosage == "" {
		return m.Name
	}
	return fmt.Sprintf("%s (%s)", m.Name, m.Dosage)
}

func actions(alarm *model.Alarm) []trigger.Action {
	acts := []trigger.Action{
		{ID: trigger.ActionTaken, Label: LabelTaken},
		{ID: trigger.ActionSkip, Label: LabelSkip},
	}
	if alarm.IsCritical {
		acts = append(acts, trigger.Action{
			ID:    trigger.ActionSnooze,
			Label: fmt.Sprintf("Adiar %d minutos", int(alarm.RepeatInterval()/time.Minute)),
		})
	}
	return acts
}

func basePayload(alarm *model.Alarm) trigger.Payload {
	channel := trigger.ChannelDefault
	if alarm.IsCritical {
		channel = trigger.ChannelCritical
	}
	return trigger.Payload{
		AlarmID:       alarm.ID,
		ProfileID:     alarm.ProfileID,
		MedicationIDs: append([]string(nil), alarm.MedicationIDs...),
		IsCritical:    alarm.IsCritical,
		Channel:       channel,
		Category:      trigger.CategoryMedicationAlarm,
		Actions:       actions(alarm),
	}
}

// BuildPayload builds the notification of a regular fire of item.
func BuildPayload(alarm *model.Alarm, meds []model.Medication, item recurrence.Item) trigger.Payload {
	p := basePayload(alarm)
	p.Title = TitleRegular
	if alarm.IsCritical {
		p.Title = TitleCritical
	}
	selected := model.SelectMedications(alarm.MedicationIDs, meds)
	lines := make([]string, 0, len(selected))
	for _, m := range selected {
		lines = append(lines, MedicationLine(m))
	}
	p.Body = strings.Join(lines, "\n")
	if p.Body == "" {
		p.Body = FallbackBody
	}
	if item.Kind == recurrence.KindDate {
		p.SpecificDate = item.Date
	}
	return p
}

// EscalationPayload builds the reminder re-sent while a critical alarm is unanswered.
func EscalationPayload(alarm *model.Alarm, meds []model.Medication) trigger.Payload {
	p := basePayload(alarm)
	p.IsCritical = true
	p.IsRepeat = true
	p.Channel = trigger.ChannelCritical
	p.Title = TitleEscalation

	selected := model.SelectMedications(alarm.MedicationIDs, meds)
	names := make([]string, 0, len(selected))
	for _, m := range selected {
		names = append(names, m.Name)
	}
	if len(names) == 0 {
		p.Body = FallbackBody
	} else {
		p.Body = EscalationPrefix + strings.Join(names, ", ")
	}
	return p
}
