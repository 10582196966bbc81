// Package metrics 提醒引擎的运行指标
//
// Collector 有两种实现: PrometheusCollector (启用时) 和 NopCollector (禁用时)
package metrics

import "time"

type Collector interface {
	// ObserveSync records one synchronizer run.
	ObserveSync(profileID string, d time.Duration, scheduled, failed int, permissionDenied bool)
	// IncScheduleFailure counts a single trigger that could not be registered, by error code.
	IncScheduleFailure(code string)
	IncEscalationArmed()
	IncDecision(status string)
	IncStaleFire()
	SetPendingTriggers(n int)
}

// NopCollector 禁用指标时使用
type NopCollector struct{}

func NewNopCollector() *NopCollector { return &NopCollector{} }

func (NopCollector) ObserveSync(string, time.Duration, int, int, bool) {}
func (NopCollector) IncScheduleFailure(string)                         {}
func (NopCollector) IncEscalationArmed()                               {}
func (NopCollector) IncDecision(string)                                {}
func (NopCollector) IncStaleFire()                                     {}
func (NopCollector) SetPendingTriggers(int)                            {}
