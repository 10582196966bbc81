package trigger

import (
	"golang.org/x/time/rate"

	"github.com/ongniud/medalarm/apperrors"
)

// DefaultMaxPending 系统允许的最大待触发数量 (Android AlarmManager 上限)
const DefaultMaxPending = 500

// Quota 模拟操作系统对定时通知的配额限制
// maxPending 限制待触发总数, limiter 限制 Schedule 调用速率
type Quota struct {
	maxPending int
	limiter    *rate.Limiter
}

// NewQuota perSecond <= 0 表示不限速
func NewQuota(maxPending int, perSecond float64, burst int) *Quota {
	q := &Quota{maxPending: maxPending}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return q
}

// Admit 判断在已有 pending 个待触发的情况下能否再注册一个
func (q *Quota) Admit(pending int) error {
	if q == nil {
		return nil
	}
	if q.maxPending > 0 && pending >= q.maxPending {
		return apperrors.Errorf(apperrors.ErrQuotaExceeded, "pending trigger limit %d reached", q.maxPending)
	}
	if q.limiter != nil && !q.limiter.Allow() {
		return apperrors.Errorf(apperrors.ErrQuotaExceeded, "schedule rate limit exceeded")
	}
	return nil
}

func (q *Quota) MaxPending() int {
	if q == nil {
		return 0
	}
	return q.maxPending
}
