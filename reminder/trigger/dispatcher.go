package trigger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler receives each fired trigger.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher 定时轮询 Firer, 把到期的触发事件交给 Handler
type Dispatcher struct {
	source   Firer
	handler  Handler
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(source Firer, handler Handler, interval time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		source:   source,
		handler:  handler,
		interval: interval,
		logger:   logger.Named("dispatcher"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Run 启动轮询循环
func (d *Dispatcher) Run(ctx context.Context) {
	d.wg.Add(1)
	go d.loop(ctx)
	d.logger.Info("dispatcher started", zap.Duration("interval", d.interval))
}

// Stop 停止轮询并等待当前一轮处理完成
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Tick(ctx)
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		}
	}
}

// Tick fires everything due now and returns the number of events handled without error.
func (d *Dispatcher) Tick(ctx context.Context) int {
	events, err := d.source.Fire(ctx, d.now())
	if err != nil {
		d.logger.Error("fire due triggers", zap.Error(err))
	}
	handled := 0
	for _, ev := range events {
		if err := d.handler(ctx, ev); err != nil {
			d.logger.Error("handle fired trigger",
				zap.String("trigger_id", ev.TriggerID),
				zap.String("alarm_id", ev.Payload.AlarmID),
				zap.Error(err))
			continue
		}
		handled++
	}
	return handled
}
