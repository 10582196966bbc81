package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/prometheus/model/labels"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/recurrence"
)

// RedisStore keeps pending triggers in Redis so a restarted daemon resumes the same set.
//
// Layout:
//
//	<prefix>triggers  hash  id -> JSON Descriptor
//	<prefix>due       zset  id scored by NextFireAt in unix millis
type RedisStore struct {
	client *redis.Client
	prefix string
	quota  *Quota
	now    func() time.Time

	// beforeCommit 测试用, 在 Fire 读取描述符之后、写回之前调用
	beforeCommit func(id string)
}

func NewRedisStore(client *redis.Client, prefix string, quota *Quota) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		quota:  quota,
		now:    time.Now,
	}
}

func (s *RedisStore) hashKey() string { return s.prefix + "triggers" }
func (s *RedisStore) dueKey() string  { return s.prefix + "due" }

func (s *RedisStore) Schedule(ctx context.Context, id string, spec recurrence.Item, payload Payload) (string, error) {
	pending, err := s.client.HLen(ctx, s.hashKey()).Result()
	if err != nil {
		return "", s.failed(id, err)
	}
	exists, err := s.client.HExists(ctx, s.hashKey(), id).Result()
	if err != nil {
		return "", s.failed(id, err)
	}
	if exists {
		pending--
	}
	if err := s.quota.Admit(int(pending)); err != nil {
		return "", err
	}

	now := s.now()
	next := spec.Next(now)
	if next.IsZero() {
		return "", apperrors.Errorf(apperrors.ErrScheduleFailed, "trigger %s has no fire instant after %s", id, now.Format(time.RFC3339))
	}
	d := Descriptor{
		ID:          id,
		Handle:      uuid.NewString(),
		Labels:      LabelsFor(id, payload),
		Spec:        spec,
		Payload:     payload,
		NextFireAt:  next,
		ScheduledAt: now,
	}
	if err := s.put(ctx, d); err != nil {
		return "", s.failed(id, err)
	}
	return d.Handle, nil
}

func (s *RedisStore) put(ctx context.Context, d Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hashKey(), d.ID, data)
		pipe.ZAdd(ctx, s.dueKey(), &redis.Z{Score: float64(d.NextFireAt.UnixMilli()), Member: d.ID})
		return nil
	})
	return err
}

func (s *RedisStore) remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.hashKey(), ids...)
		pipe.ZRem(ctx, s.dueKey(), members...)
		return nil
	})
	return err
}

func (s *RedisStore) Cancel(ctx context.Context, id string) error {
	if err := s.remove(ctx, id); err != nil {
		return apperrors.NewAppError(apperrors.ErrNetworkFailure, "cancel trigger "+id, err)
	}
	return nil
}

func (s *RedisStore) CancelAll(ctx context.Context) error {
	if err := s.client.Del(ctx, s.hashKey(), s.dueKey()).Err(); err != nil {
		return apperrors.NewAppError(apperrors.ErrNetworkFailure, "cancel all triggers", err)
	}
	return nil
}

func (s *RedisStore) ListPending(ctx context.Context, matchers ...*labels.Matcher) ([]Descriptor, error) {
	all, err := s.client.HGetAll(ctx, s.hashKey()).Result()
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrNetworkFailure, "list pending triggers", err)
	}
	ds := make([]Descriptor, 0, len(all))
	for id, raw := range all {
		var d Descriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrScheduleFailed, "decode trigger "+id, err)
		}
		if matches(d.Labels, matchers) {
			ds = append(ds, d)
		}
	}
	sortDescriptors(ds)
	return ds, nil
}

// maxFireAttempts bounds the retries of one trigger whose descriptor keeps
// changing underneath Fire.
const maxFireAttempts = 5

func (s *RedisStore) Fire(ctx context.Context, now time.Time) ([]Event, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrNetworkFailure, "query due triggers", err)
	}

	var events []Event
	for _, id := range ids {
		ev, err := s.fireOne(ctx, id, now)
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

// fireOne 在 WATCH 事务中读取并推进或移除一个到期触发器.
// 读取之后描述符被重新调度或取消时事务失败, 重读后按新描述符处理.
func (s *RedisStore) fireOne(ctx context.Context, id string, now time.Time) (*Event, error) {
	for attempt := 0; attempt < maxFireAttempts; attempt++ {
		var fired *Event
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			fired = nil
			raw, err := tx.HGet(ctx, s.hashKey(), id).Result()
			if errors.Is(err, redis.Nil) {
				// the zset entry outlived its descriptor
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.ZRem(ctx, s.dueKey(), id)
					return nil
				})
				return err
			}
			if err != nil {
				return err
			}

			var d Descriptor
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.HDel(ctx, s.hashKey(), id)
					pipe.ZRem(ctx, s.dueKey(), id)
					return nil
				})
				return err
			}
			if d.NextFireAt.After(now) {
				return nil
			}
			if s.beforeCommit != nil {
				s.beforeCommit(id)
			}

			ev := Event{TriggerID: d.ID, Payload: d.Payload, DueAt: d.NextFireAt, FiredAt: now}
			var next time.Time
			if d.Spec.Repeats() {
				next = d.Spec.Next(now)
			}
			var data []byte
			if !next.IsZero() {
				d.NextFireAt = next
				if data, err = json.Marshal(d); err != nil {
					return err
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next.IsZero() {
					pipe.HDel(ctx, s.hashKey(), id)
					pipe.ZRem(ctx, s.dueKey(), id)
					return nil
				}
				pipe.HSet(ctx, s.hashKey(), id, data)
				pipe.ZAdd(ctx, s.dueKey(), &redis.Z{Score: float64(next.UnixMilli()), Member: id})
				return nil
			})
			if err == nil {
				fired = &ev
			}
			return err
		}, s.hashKey())

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrNetworkFailure, "advance trigger "+id, err)
		}
		return fired, nil
	}
	return nil, apperrors.Errorf(apperrors.ErrNetworkFailure, "trigger %s changed on every attempt", id)
}

func (s *RedisStore) failed(id string, err error) error {
	return apperrors.NewAppError(apperrors.ErrScheduleFailed, "schedule trigger "+id, err)
}
