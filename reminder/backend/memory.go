package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/model"
)

// MemoryBackend 内存实现, 用于测试和本地开发
type MemoryBackend struct {
	mu          sync.Mutex
	alarms      map[string]*model.Alarm
	medications map[string]*model.Medication
	logs        []model.AlarmLog
	logErr      error
	now         func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		alarms:      make(map[string]*model.Alarm),
		medications: make(map[string]*model.Medication),
		now:         time.Now,
	}
}

// SetClock replaces the clock used for created_at stamps.
func (b *MemoryBackend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// FailLogWrites makes CreateAlarmLog fail with err until called again with nil.
func (b *MemoryBackend) FailLogWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logErr = err
}

// PutMedication seeds a medication.
func (b *MemoryBackend) PutMedication(m model.Medication) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.medications[m.ID] = &m
}

// Medication returns a seeded medication, mostly for stock assertions.
func (b *MemoryBackend) Medication(id string) (model.Medication, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.medications[id]
	if !ok {
		return model.Medication{}, false
	}
	return *m, true
}

func (b *MemoryBackend) Alarms(ctx context.Context, profileID string) ([]model.Alarm, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []model.Alarm
	for _, a := range b.alarms {
		if profileID == "" || a.ProfileID == profileID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (b *MemoryBackend) ActiveAlarms(ctx context.Context, profileID string) ([]model.Alarm, error) {
	alarms, err := b.Alarms(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return activeOnly(alarms), nil
}

func (b *MemoryBackend) Alarm(ctx context.Context, id string) (*model.Alarm, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.alarms[id]
	if !ok {
		return nil, apperrors.Errorf(apperrors.ErrNotFound, "alarm %s not found", id)
	}
	return a.Clone(), nil
}

func (b *MemoryBackend) CreateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := alarm.Clone()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = b.now()
	}
	b.alarms[a.ID] = a
	return a.Clone(), nil
}

func (b *MemoryBackend) UpdateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old, ok := b.alarms[alarm.ID]
	if !ok {
		return nil, apperrors.Errorf(apperrors.ErrNotFound, "alarm %s not found", alarm.ID)
	}
	a := alarm.Clone()
	a.CreatedAt = old.CreatedAt
	b.alarms[a.ID] = a
	return a.Clone(), nil
}

func (b *MemoryBackend) DeleteAlarm(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.alarms[id]; !ok {
		return apperrors.Errorf(apperrors.ErrNotFound, "alarm %s not found", id)
	}
	delete(b.alarms, id)
	return nil
}

func (b *MemoryBackend) Medications(ctx context.Context, profileID string) ([]model.Medication, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Medication
	for _, m := range b.medications {
		if profileID == "" || m.ProfileID == profileID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *MemoryBackend) CreateAlarmLog(ctx context.Context, log *model.AlarmLog) (*model.AlarmLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.logErr != nil {
		return nil, apperrors.NewAppError(apperrors.ErrNetworkFailure, "create alarm log", b.logErr)
	}
	l := *log
	l.MedicationIDs = append([]string(nil), log.MedicationIDs...)
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = b.now()
	}
	b.logs = append(b.logs, l)
	if l.Status == model.LogTaken {
		for _, id := range l.MedicationIDs {
			if m, ok := b.medications[id]; ok {
				m.StockQuantity--
			}
		}
	}
	return &l, nil
}

func (b *MemoryBackend) AlarmLogs(ctx context.Context, profileID string, limit int) ([]model.AlarmLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	var out []model.AlarmLog
	for i := len(b.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if profileID == "" || b.logs[i].ProfileID == profileID {
			out = append(out, b.logs[i])
		}
	}
	return out, nil
}
