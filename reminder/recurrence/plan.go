package recurrence

import (
	"fmt"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"
)

type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindWeekday Kind = "weekday"
	KindDate    Kind = "date"
	KindOnce    Kind = "once"
)

// Item 一个具体的触发规则，对应设备上的一个待触发通知
type Item struct {
	Kind    Kind         `json:"kind"`
	Hour    int          `json:"hour"`
	Minute  int          `json:"minute"`
	Weekday time.Weekday `json:"weekday,omitempty"`
	Date    string       `json:"date,omitempty"`
	// At is the seed instant for KindWeekly and the fire instant for KindDate and KindOnce.
	At time.Time `json:"at,omitempty"`
	// TZ names the location Hour and Minute are read in. Empty means the
	// location of the instant passed to Next.
	TZ string `json:"tz,omitempty"`
}

// Plan is the resolved set of items for one alarm.
type Plan []Item

func Daily(hour, minute int) Item {
	return Item{Kind: KindDaily, Hour: hour, Minute: minute}
}

func Weekly(first time.Time) Item {
	return Item{Kind: KindWeekly, Hour: first.Hour(), Minute: first.Minute(), At: first}
}

func Weekday(hour, minute int, wd time.Weekday) Item {
	return Item{Kind: KindWeekday, Hour: hour, Minute: minute, Weekday: wd}
}

func Once(at time.Time) Item {
	return Item{Kind: KindOnce, Hour: at.Hour(), Minute: at.Minute(), At: at}
}

// In pins the wall-clock fields of the item to loc.
func (i Item) In(loc *time.Location) Item {
	i.TZ = loc.String()
	return i
}

func (i Item) location(ref time.Time) *time.Location {
	if i.TZ == "" {
		return ref.Location()
	}
	loc, err := time.LoadLocation(i.TZ)
	if err != nil {
		return ref.Location()
	}
	return loc
}

// Repeats reports whether the item keeps firing after its first fire.
func (i Item) Repeats() bool {
	switch i.Kind {
	case KindDaily, KindWeekly, KindWeekday:
		return true
	}
	return false
}

// Discriminator distinguishes the items of one alarm inside its trigger ids.
func (i Item) Discriminator() string {
	switch i.Kind {
	case KindWeekday:
		return "wd" + strconv.Itoa(int(i.Weekday))
	case KindDate:
		return i.Date
	case KindOnce:
		return "once-" + strconv.FormatInt(i.At.UnixMilli(), 10)
	}
	return ""
}

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Rule builds the RFC 5545 rule of a repeating item, anchored so that it has
// occurrences after ref. One-shot items have no rule.
func (i Item) Rule(ref time.Time) (*rrule.RRule, error) {
	loc := i.location(ref)
	ref = ref.In(loc)
	anchor := time.Date(ref.Year(), ref.Month(), ref.Day(), i.Hour, i.Minute, 0, 0, loc)
	switch i.Kind {
	case KindDaily:
		return rrule.NewRRule(rrule.ROption{
			Freq:    rrule.DAILY,
			Dtstart: anchor.AddDate(0, 0, -1),
		})
	case KindWeekly:
		return rrule.NewRRule(rrule.ROption{
			Freq:    rrule.WEEKLY,
			Dtstart: i.At,
		})
	case KindWeekday:
		if i.Weekday < time.Sunday || i.Weekday > time.Saturday {
			return nil, fmt.Errorf("weekday %d out of range", i.Weekday)
		}
		return rrule.NewRRule(rrule.ROption{
			Freq:      rrule.WEEKLY,
			Dtstart:   anchor.AddDate(0, 0, -7),
			Byweekday: []rrule.Weekday{rruleWeekdays[i.Weekday]},
		})
	}
	return nil, fmt.Errorf("%s item does not repeat", i.Kind)
}

// Next returns the first fire instant strictly after after, or the zero time
// when a one-shot item has already elapsed.
func (i Item) Next(after time.Time) time.Time {
	if !i.Repeats() {
		if i.At.After(after) {
			return i.At
		}
		return time.Time{}
	}
	r, err := i.Rule(after)
	if err != nil {
		return time.Time{}
	}
	return r.After(after, false)
}

// String renders the item for logs and diagnostics.
func (i Item) String() string {
	switch i.Kind {
	case KindDate, KindOnce:
		return fmt.Sprintf("%s@%s", i.Kind, i.At.Format(time.RFC3339))
	}
	r, err := i.Rule(time.Now())
	if err != nil {
		return string(i.Kind)
	}
	return r.String()
}
