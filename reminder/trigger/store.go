// Package trigger is the adapter to the scheduled-notification subsystem.
//
// The engine depends only on Store. Schedule registers one pending trigger per id;
// scheduling a pending id replaces it. Cancel of an unknown id is a no-op.
package trigger

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/prometheus/model/labels"

	"github.com/ongniud/medalarm/reminder/recurrence"
)

type Store interface {
	Schedule(ctx context.Context, id string, spec recurrence.Item, payload Payload) (handle string, err error)
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) error
	ListPending(ctx context.Context, matchers ...*labels.Matcher) ([]Descriptor, error)
}

// Firer collects the triggers due at now, advancing repeating ones and
// removing one-shot ones.
type Firer interface {
	Fire(ctx context.Context, now time.Time) ([]Event, error)
}

// PermissionRequester is implemented by stores that sit behind OS permissions
// (notifications, exact alarms).
type PermissionRequester interface {
	RequestPermissions(ctx context.Context) (bool, error)
}

func sortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].NextFireAt.Equal(ds[j].NextFireAt) {
			return ds[i].NextFireAt.Before(ds[j].NextFireAt)
		}
		return ds[i].ID < ds[j].ID
	})
}
