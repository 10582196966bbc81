// Package recurrence turns an alarm's recurrence rule into concrete trigger items.
// Everything here is a pure function of the alarm and the given instant.
package recurrence

import (
	"sort"
	"time"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/model"
)

// Resolve derives the plan of alarm relative to now. Wall-clock times are read
// in now's location. A specific-dates alarm whose dates all lie in the past
// yields an empty plan and no error.
func Resolve(alarm *model.Alarm, now time.Time) (Plan, error) {
	plan, err := resolve(alarm, now)
	if err != nil {
		return nil, err
	}
	for i := range plan {
		plan[i] = plan[i].In(now.Location())
	}
	return plan, nil
}

func resolve(alarm *model.Alarm, now time.Time) (Plan, error) {
	clock, err := alarm.Clock()
	if err != nil {
		return nil, invalid(alarm, err)
	}
	kind, err := alarm.Recurrence()
	if err != nil {
		return nil, invalid(alarm, err)
	}

	switch kind {
	case model.RecurDaily:
		return Plan{Daily(clock.Hour, clock.Minute)}, nil

	case model.RecurAlternate:
		return Plan{Weekly(NextOccurrence(clock, now))}, nil

	case model.RecurSpecificWeekdays:
		days, err := alarm.Weekdays()
		if err != nil {
			return nil, invalid(alarm, err)
		}
		seen := make(map[time.Weekday]struct{}, len(days))
		plan := make(Plan, 0, len(days))
		for _, wd := range days {
			if _, dup := seen[wd]; dup {
				continue
			}
			seen[wd] = struct{}{}
			plan = append(plan, Weekday(clock.Hour, clock.Minute, wd))
		}
		sort.Slice(plan, func(i, j int) bool { return plan[i].Weekday < plan[j].Weekday })
		return plan, nil

	case model.RecurSpecificDates:
		dates, err := alarm.Dates()
		if err != nil {
			return nil, invalid(alarm, err)
		}
		seen := make(map[model.Date]struct{}, len(dates))
		plan := make(Plan, 0, len(dates))
		for _, d := range dates {
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			at := d.At(clock, now.Location())
			if !at.After(now) {
				continue
			}
			plan = append(plan, Item{
				Kind:   KindDate,
				Hour:   clock.Hour,
				Minute: clock.Minute,
				Date:   d.String(),
				At:     at,
			})
		}
		sort.Slice(plan, func(i, j int) bool { return plan[i].At.Before(plan[j].At) })
		return plan, nil
	}
	return nil, apperrors.Errorf(apperrors.ErrRecurrenceInvalid, "alarm %s: unsupported recurrence %s", alarm.ID, kind)
}

// NextOccurrence returns clock today if it is still ahead of now, otherwise tomorrow.
func NextOccurrence(clock model.ClockTime, now time.Time) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour, clock.Minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func invalid(alarm *model.Alarm, err error) error {
	return apperrors.NewAppError(apperrors.ErrRecurrenceInvalid, "cannot resolve alarm "+alarm.ID, err)
}
