package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ongniud/medalarm/apperrors"
)

type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyAlternate Frequency = "alternate"
	FrequencySpecific  Frequency = "specific"
)

// RecurrenceKind 闹钟的具体重复方式
type RecurrenceKind string

const (
	RecurDaily            RecurrenceKind = "daily"
	RecurAlternate        RecurrenceKind = "alternate"
	RecurSpecificWeekdays RecurrenceKind = "specific_weekdays"
	RecurSpecificDates    RecurrenceKind = "specific_dates"
)

// DefaultRepeatIntervalMinutes 关键闹钟的默认升级间隔
const DefaultRepeatIntervalMinutes = 5

const DateLayout = "2006-01-02"

// Alarm 用户配置的用药提醒
type Alarm struct {
	ID                    string    `json:"id"`
	ProfileID             string    `json:"profile_id"`
	Time                  string    `json:"time"`
	Frequency             Frequency `json:"frequency"`
	SpecificDays          []int     `json:"specific_days,omitempty"`
	SpecificDates         []string  `json:"specific_dates,omitempty"`
	MedicationIDs         []string  `json:"medication_ids"`
	IsCritical            bool      `json:"is_critical"`
	RepeatIntervalMinutes int       `json:"repeat_interval_minutes"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at,omitempty"`
}

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClockTime parses "HH:MM" in 24h format.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("hour in %q out of range", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("minute in %q out of range", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// Date is a calendar date without time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("date %q is not %s", s, DateLayout)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// At returns the instant of this date at clock c in loc.
func (d Date) At(c ClockTime, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

// Clock returns the parsed alarm time.
func (a *Alarm) Clock() (ClockTime, error) {
	return ParseClockTime(a.Time)
}

// Recurrence 根据 frequency 和选择集合确定重复方式
func (a *Alarm) Recurrence() (RecurrenceKind, error) {
	switch a.Frequency {
	case FrequencyDaily:
		return RecurDaily, nil
	case FrequencyAlternate:
		return RecurAlternate, nil
	case FrequencySpecific:
		if len(a.SpecificDates) > 0 {
			return RecurSpecificDates, nil
		}
		if len(a.SpecificDays) > 0 {
			return RecurSpecificWeekdays, nil
		}
		return "", fmt.Errorf("alarm %s: specific frequency without days or dates", a.ID)
	default:
		return "", fmt.Errorf("alarm %s: unknown frequency %q", a.ID, a.Frequency)
	}
}

// Weekdays returns the selected weekdays (0=Sunday).
func (a *Alarm) Weekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(a.SpecificDays))
	for _, d := range a.SpecificDays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("alarm %s: weekday %d out of range 0..6", a.ID, d)
		}
		out = append(out, time.Weekday(d))
	}
	return out, nil
}

func (a *Alarm) Dates() ([]Date, error) {
	out := make([]Date, 0, len(a.SpecificDates))
	for _, s := range a.SpecificDates {
		d, err := ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("alarm %s: %w", a.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// RepeatInterval returns the escalation delay, defaulting to 5 minutes.
func (a *Alarm) RepeatInterval() time.Duration {
	if a.RepeatIntervalMinutes <= 0 {
		return DefaultRepeatIntervalMinutes * time.Minute
	}
	return time.Duration(a.RepeatIntervalMinutes) * time.Minute
}

// Validate checks the alarm invariants and reports all violations at once.
func (a *Alarm) Validate() error {
	var problems []string
	if a.ProfileID == "" {
		problems = append(problems, "empty profile_id")
	}
	if _, err := a.Clock(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(a.MedicationIDs) == 0 {
		problems = append(problems, "no medication_ids")
	}
	kind, err := a.Recurrence()
	if err != nil {
		problems = append(problems, err.Error())
	}
	switch kind {
	case RecurSpecificWeekdays:
		if _, err := a.Weekdays(); err != nil {
			problems = append(problems, err.Error())
		}
	case RecurSpecificDates:
		if _, err := a.Dates(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return apperrors.Errorf(apperrors.ErrAlarmInvalid, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a deep copy.
func (a *Alarm) Clone() *Alarm {
	c := *a
	c.SpecificDays = append([]int(nil), a.SpecificDays...)
	c.SpecificDates = append([]string(nil), a.SpecificDates...)
	c.MedicationIDs = append([]string(nil), a.MedicationIDs...)
	return &c
}
