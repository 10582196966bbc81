package backend

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/model"
)

// PostgresStore 直接读写 PostgreSQL 的后端实现, 表结构由外部管理
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger.Named("backend.postgres"), now: time.Now}
}

const alarmColumns = `id, profile_id, time, frequency, specific_days, specific_dates,
		medication_ids, is_critical, repeat_interval_minutes, is_active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row rowScanner) (*model.Alarm, error) {
	var (
		a     model.Alarm
		days  pq.Int64Array
		dates pq.StringArray
		meds  pq.StringArray
	)
	err := row.Scan(&a.ID, &a.ProfileID, &a.Time, &a.Frequency, &days, &dates,
		&meds, &a.IsCritical, &a.RepeatIntervalMinutes, &a.IsActive, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, d := range days {
		a.SpecificDays = append(a.SpecificDays, int(d))
	}
	a.SpecificDates = []string(dates)
	a.MedicationIDs = []string(meds)
	return &a, nil
}

func daysArray(days []int) pq.Int64Array {
	if days == nil {
		return nil
	}
	out := make(pq.Int64Array, len(days))
	for i, d := range days {
		out[i] = int64(d)
	}
	return out
}

func (s *PostgresStore) dbErr(op string, err error) error {
	s.logger.Error("database call failed", zap.String("op", op), zap.Error(err))
	return apperrors.NewAppError(apperrors.ErrNetworkFailure, op, err)
}

func (s *PostgresStore) queryAlarms(ctx context.Context, op, query string, args ...any) ([]model.Alarm, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dbErr(op, err)
	}
	defer rows.Close()

	var alarms []model.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, s.dbErr(op, err)
		}
		alarms = append(alarms, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbErr(op, err)
	}
	return alarms, nil
}

func (s *PostgresStore) Alarms(ctx context.Context, profileID string) ([]model.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE profile_id = $1 ORDER BY time, id`
	return s.queryAlarms(ctx, "list alarms", query, profileID)
}

func (s *PostgresStore) ActiveAlarms(ctx context.Context, profileID string) ([]model.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE profile_id = $1 AND is_active = TRUE ORDER BY time, id`
	return s.queryAlarms(ctx, "list active alarms", query, profileID)
}

func (s *PostgresStore) Alarm(ctx context.Context, id string) (*model.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE id = $1`
	a, err := scanAlarm(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Errorf(apperrors.ErrNotFound, "alarm %s not found", id)
	}
	if err != nil {
		return nil, s.dbErr("get alarm", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error) {
	a := alarm.Clone()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alarms (`+alarmColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ProfileID, a.Time, string(a.Frequency), daysArray(a.SpecificDays), pq.StringArray(a.SpecificDates),
		pq.StringArray(a.MedicationIDs), a.IsCritical, a.RepeatIntervalMinutes, a.IsActive, a.CreatedAt,
	)
	if err != nil {
		return nil, s.dbErr("create alarm", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alarms SET time = $2, frequency = $3, specific_days = $4, specific_dates = $5,
			medication_ids = $6, is_critical = $7, repeat_interval_minutes = $8, is_active = $9
		WHERE id = $1`,
		alarm.ID, alarm.Time, string(alarm.Frequency), daysArray(alarm.SpecificDays), pq.StringArray(alarm.SpecificDates),
		pq.StringArray(alarm.MedicationIDs), alarm.IsCritical, alarm.RepeatIntervalMinutes, alarm.IsActive,
	)
	if err != nil {
		return nil, s.dbErr("update alarm", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.Errorf(apperrors.ErrNotFound, "alarm %s not found", alarm.ID)
	}
	return s.Alarm(ctx, alarm.ID)
}

func (s *PostgresStore) DeleteAlarm(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alarms WHERE id = $1`, id)
	if err != nil {
		return s.dbErr("delete alarm", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Errorf(apperrors.ErrNotFound, "alarm %s not found", id)
	}
	return nil
}

func (s *PostgresStore) Medications(ctx context.Context, profileID string) ([]model.Medication, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, name, dosage, stock_quantity, min_stock_alert, created_at
		FROM medications WHERE profile_id = $1 ORDER BY name`, profileID)
	if err != nil {
		return nil, s.dbErr("list medications", err)
	}
	defer rows.Close()

	var meds []model.Medication
	for rows.Next() {
		var m model.Medication
		if err := rows.Scan(&m.ID, &m.ProfileID, &m.Name, &m.Dosage, &m.StockQuantity, &m.MinStockAlert, &m.CreatedAt); err != nil {
			return nil, s.dbErr("list medications", err)
		}
		meds = append(meds, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbErr("list medications", err)
	}
	return meds, nil
}

// CreateAlarmLog inserts the log and, for taken logs, decrements stock in the same transaction.
func (s *PostgresStore) CreateAlarmLog(ctx context.Context, log *model.AlarmLog) (*model.AlarmLog, error) {
	l := *log
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	var notes sql.NullString
	if l.Notes != "" {
		notes = sql.NullString{String: l.Notes, Valid: true}
	}
	var confirmed sql.NullTime
	if l.ConfirmedTime != nil {
		confirmed = sql.NullTime{Time: *l.ConfirmedTime, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.dbErr("create alarm log", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alarm_logs (id, alarm_id, medication_ids, profile_id, scheduled_time,
			confirmed_time, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.AlarmID, pq.StringArray(l.MedicationIDs), l.ProfileID, l.ScheduledTime,
		confirmed, string(l.Status), notes, l.CreatedAt,
	)
	if err != nil {
		return nil, s.dbErr("create alarm log", err)
	}
	if l.Status == model.LogTaken && len(l.MedicationIDs) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE medications SET stock_quantity = stock_quantity - 1 WHERE id = ANY($1)`,
			pq.Array(l.MedicationIDs))
		if err != nil {
			return nil, s.dbErr("decrement stock", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, s.dbErr("create alarm log", err)
	}
	return &l, nil
}

func (s *PostgresStore) AlarmLogs(ctx context.Context, profileID string, limit int) ([]model.AlarmLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alarm_id, medication_ids, profile_id, scheduled_time, confirmed_time, status, notes, created_at
		FROM alarm_logs WHERE profile_id = $1 ORDER BY created_at DESC LIMIT $2`, profileID, limit)
	if err != nil {
		return nil, s.dbErr("list alarm logs", err)
	}
	defer rows.Close()

	var logs []model.AlarmLog
	for rows.Next() {
		var (
			l         model.AlarmLog
			meds      pq.StringArray
			confirmed sql.NullTime
			notes     sql.NullString
			status    string
		)
		if err := rows.Scan(&l.ID, &l.AlarmID, &meds, &l.ProfileID, &l.ScheduledTime, &confirmed, &status, &notes, &l.CreatedAt); err != nil {
			return nil, s.dbErr("list alarm logs", err)
		}
		l.MedicationIDs = []string(meds)
		l.Status = model.LogStatus(status)
		l.Notes = notes.String
		if confirmed.Valid {
			t := confirmed.Time
			l.ConfirmedTime = &t
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dbErr("list alarm logs", err)
	}
	return logs, nil
}
