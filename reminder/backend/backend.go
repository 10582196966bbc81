// Package backend is the persistence collaborator of the engine: alarms,
// medications and alarm logs live behind it.
//
// Implementations return BACKEND.NOT_FOUND for unknown ids and NETWORK.FAILURE
// for transport or database errors.
package backend

import (
	"context"

	"github.com/ongniud/medalarm/reminder/model"
)

// DefaultLogLimit matches the default page size of the alarm-logs route.
const DefaultLogLimit = 100

type Backend interface {
	Alarms(ctx context.Context, profileID string) ([]model.Alarm, error)
	ActiveAlarms(ctx context.Context, profileID string) ([]model.Alarm, error)
	Alarm(ctx context.Context, id string) (*model.Alarm, error)
	CreateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error)
	UpdateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error)
	DeleteAlarm(ctx context.Context, id string) error

	Medications(ctx context.Context, profileID string) ([]model.Medication, error)

	// CreateAlarmLog records a decision. A taken log also decrements the stock
	// of every medication it names.
	CreateAlarmLog(ctx context.Context, log *model.AlarmLog) (*model.AlarmLog, error)
	// AlarmLogs returns the newest logs of a profile first.
	AlarmLogs(ctx context.Context, profileID string, limit int) ([]model.AlarmLog, error)
}

func activeOnly(alarms []model.Alarm) []model.Alarm {
	out := make([]model.Alarm, 0, len(alarms))
	for _, a := range alarms {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out
}
