package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/alarmmanager"
)

const handleTimeout = 30 * time.Second

// Subscriber is the subset of mqtt.Client the action listener needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// ActionHandler 处理设备回传的消息, *alarmmanager.AlarmManager 满足该接口
type ActionHandler interface {
	HandleAction(ctx context.Context, action alarmmanager.ActionEvent) error
	Resync(ctx context.Context) (*alarmmanager.SyncReport, error)
}

// ActionListener 订阅 <prefix>/<profile_id>/actions 和 <prefix>/<profile_id>/sync.
//
// actions 消息是 JSON 编码的 alarmmanager.ActionEvent, 例如
// {"alarmId":"a1","triggerId":"a1#wd1","action":"taken"}.
// sync 消息的内容被忽略, 收到后重新同步该 profile, 用于闹钟在后端被增删改之后.
type ActionListener struct {
	subscriber Subscriber
	handler    ActionHandler
	prefix     string
	profileID  string
	qos        byte
	logger     *zap.Logger

	mu  sync.RWMutex
	ctx context.Context
}

func NewActionListener(sub Subscriber, handler ActionHandler, prefix, profileID string, qos byte, logger *zap.Logger) *ActionListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionListener{
		subscriber: sub,
		handler:    handler,
		prefix:     prefix,
		profileID:  profileID,
		qos:        qos,
		logger:     logger.Named("actions").With(zap.String("profile_id", profileID)),
		ctx:        context.Background(),
	}
}

func (l *ActionListener) ActionsTopic() string {
	return fmt.Sprintf("%s/%s/actions", l.prefix, l.profileID)
}

func (l *ActionListener) SyncTopic() string {
	return fmt.Sprintf("%s/%s/sync", l.prefix, l.profileID)
}

// Start 订阅两个主题. 回调在 paho 的 goroutine 中运行, 以 ctx 为父 context
func (l *ActionListener) Start(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	if err := l.subscribe(l.ActionsTopic(), l.onAction); err != nil {
		return err
	}
	if err := l.subscribe(l.SyncTopic(), l.onSync); err != nil {
		return err
	}
	l.logger.Info("listening for device actions", zap.String("topic", l.ActionsTopic()))
	return nil
}

// Stop 取消订阅
func (l *ActionListener) Stop() error {
	token := l.subscriber.Unsubscribe(l.ActionsTopic(), l.SyncTopic())
	if !token.WaitTimeout(publishTimeout) {
		return apperrors.Errorf(apperrors.ErrNetworkFailure, "unsubscribe timed out")
	}
	if err := token.Error(); err != nil {
		return apperrors.NewAppError(apperrors.ErrNetworkFailure, "unsubscribe", err)
	}
	return nil
}

func (l *ActionListener) subscribe(topic string, cb mqtt.MessageHandler) error {
	token := l.subscriber.Subscribe(topic, l.qos, cb)
	if !token.WaitTimeout(publishTimeout) {
		return apperrors.Errorf(apperrors.ErrNetworkFailure, "subscribe %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return apperrors.NewAppError(apperrors.ErrNetworkFailure, "subscribe "+topic, err)
	}
	return nil
}

func (l *ActionListener) context() (context.Context, context.CancelFunc) {
	l.mu.RLock()
	parent := l.ctx
	l.mu.RUnlock()
	return context.WithTimeout(parent, handleTimeout)
}

func (l *ActionListener) onAction(_ mqtt.Client, msg mqtt.Message) {
	var action alarmmanager.ActionEvent
	if err := json.Unmarshal(msg.Payload(), &action); err != nil {
		l.logger.Warn("dropping malformed action", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if action.AlarmID == "" {
		l.logger.Warn("dropping action without alarm id", zap.String("action", string(action.Action)))
		return
	}

	ctx, cancel := l.context()
	defer cancel()
	if err := l.handler.HandleAction(ctx, action); err != nil {
		// 重复点击或实例已关闭属于正常情况
		if apperrors.Is(err, apperrors.ErrNoOpenInstance) {
			l.logger.Info("action without open instance", zap.String("alarm_id", action.AlarmID))
			return
		}
		l.logger.Error("action failed",
			zap.String("alarm_id", action.AlarmID),
			zap.String("action", string(action.Action)),
			zap.Error(err))
		return
	}
	l.logger.Debug("action handled", zap.String("alarm_id", action.AlarmID), zap.String("action", string(action.Action)))
}

func (l *ActionListener) onSync(_ mqtt.Client, _ mqtt.Message) {
	ctx, cancel := l.context()
	defer cancel()
	report, err := l.handler.Resync(ctx)
	if err != nil {
		l.logger.Error("resync failed", zap.Error(err))
		return
	}
	l.logger.Info("resynced on request",
		zap.Int("scheduled", len(report.Scheduled)),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("permission_denied", report.PermissionDenied))
}
