package model

import "time"

type LogStatus string

const (
	LogTaken   LogStatus = "taken"
	LogSkipped LogStatus = "skipped"
	LogMissed  LogStatus = "missed"
)

// AlarmLog 记录一次确认决定或一次漏服，创建后不可变
type AlarmLog struct {
	ID            string     `json:"id,omitempty"`
	AlarmID       string     `json:"alarm_id"`
	MedicationIDs []string   `json:"medication_ids"`
	ProfileID     string     `json:"profile_id"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	ConfirmedTime *time.Time `json:"confirmed_time,omitempty"`
	Status        LogStatus  `json:"status"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at,omitempty"`
}
