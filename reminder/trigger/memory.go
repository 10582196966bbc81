package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/prometheus/model/labels"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/recurrence"
)

// MemoryStore 进程内的触发器存储, 也是测试中操作系统调度器的替身
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]*Descriptor
	quota   *Quota
	granted bool
	now     func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithQuota(q *Quota) MemoryOption {
	return func(s *MemoryStore) { s.quota = q }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithPermission(granted bool) MemoryOption {
	return func(s *MemoryStore) { s.granted = granted }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		pending: make(map[string]*Descriptor),
		granted: true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPermission toggles the simulated OS notification permission.
func (s *MemoryStore) SetPermission(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = granted
}

func (s *MemoryStore) RequestPermissions(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted, nil
}

// Schedule registers the trigger. Scheduling an id that is already pending
// replaces it, the way the OS replaces a notification with the same identifier.
func (s *MemoryStore) Schedule(ctx context.Context, id string, spec recurrence.Item, payload Payload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.granted {
		return "", apperrors.Errorf(apperrors.ErrPermissionDenied, "notification permission not granted")
	}
	pending := len(s.pending)
	if _, ok := s.pending[id]; ok {
		pending--
	}
	if err := s.quota.Admit(pending); err != nil {
		return "", err
	}

	now := s.now()
	next := spec.Next(now)
	if next.IsZero() {
		return "", apperrors.Errorf(apperrors.ErrScheduleFailed, "trigger %s has no fire instant after %s", id, now.Format(time.RFC3339))
	}
	d := &Descriptor{
		ID:          id,
		Handle:      uuid.NewString(),
		Labels:      LabelsFor(id, payload),
		Spec:        spec,
		Payload:     payload,
		NextFireAt:  next,
		ScheduledAt: now,
	}
	s.pending[id] = d
	return d.Handle, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	return nil
}

func (s *MemoryStore) CancelAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]*Descriptor)
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context, matchers ...*labels.Matcher) ([]Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := make([]Descriptor, 0, len(s.pending))
	for _, d := range s.pending {
		if matches(d.Labels, matchers) {
			ds = append(ds, *d)
		}
	}
	sortDescriptors(ds)
	return ds, nil
}

// Fire 返回 now 时刻到期的触发器事件, 重复触发器推进到下一次, 一次性触发器被移除
func (s *MemoryStore) Fire(ctx context.Context, now time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Descriptor
	for id, d := range s.pending {
		if d.NextFireAt.After(now) {
			continue
		}
		due = append(due, *d)
		if !d.Spec.Repeats() {
			delete(s.pending, id)
			continue
		}
		next := d.Spec.Next(now)
		if next.IsZero() {
			delete(s.pending, id)
			continue
		}
		d.NextFireAt = next
	}
	sortDescriptors(due)

	events := make([]Event, 0, len(due))
	for _, d := range due {
		events = append(events, Event{
			TriggerID: d.ID,
			Payload:   d.Payload,
			DueAt:     d.NextFireAt,
			FiredAt:   now,
		})
	}
	return events, nil
}

// Len returns the number of pending triggers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
