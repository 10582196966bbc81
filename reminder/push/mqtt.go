// Package push delivers alarm notifications to devices over MQTT and receives
// the button actions the devices send back.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/config"
	"github.com/ongniud/medalarm/reminder/alarmmanager"
)

const publishTimeout = 10 * time.Second

// Publisher is the subset of mqtt.Client the notifier needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier 把通知以 JSON 发布到 <prefix>/<profile_id>/alarms
type MQTTNotifier struct {
	publisher Publisher
	prefix    string
	qos       byte
	logger    *zap.Logger
}

func NewMQTTNotifier(publisher Publisher, prefix string, qos byte, logger *zap.Logger) *MQTTNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTNotifier{publisher: publisher, prefix: prefix, qos: qos, logger: logger.Named("mqtt")}
}

// Connect 连接 broker, 返回 client 供 Disconnect 使用
func Connect(cfg config.NotifierConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, apperrors.Errorf(apperrors.ErrNetworkFailure, "connect to mqtt broker %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrNetworkFailure, "connect to mqtt broker", err)
	}
	return client, nil
}

func (n *MQTTNotifier) Topic(profileID string) string {
	return fmt.Sprintf("%s/%s/alarms", n.prefix, profileID)
}

// Notify publishes every notification and returns the first failure.
// Critical notifications are never published below QoS 1.
func (n *MQTTNotifier) Notify(ctx context.Context, notifications []*alarmmanager.Notification) error {
	var firstErr error
	for _, note := range notifications {
		if err := n.publish(ctx, note); err != nil {
			n.logger.Error("publish failed", zap.String("alarm_id", note.AlarmID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (n *MQTTNotifier) publish(ctx context.Context, note *alarmmanager.Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}
	qos := n.qos
	if note.Critical && qos < 1 {
		qos = 1
	}
	topic := n.Topic(note.ProfileID)
	token := n.publisher.Publish(topic, qos, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return apperrors.NewAppError(apperrors.ErrNetworkFailure, "publish "+topic, ctx.Err())
	case <-time.After(publishTimeout):
		return apperrors.Errorf(apperrors.ErrNetworkFailure, "publish %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return apperrors.NewAppError(apperrors.ErrNetworkFailure, "publish "+topic, err)
	}
	n.logger.Debug("notification published", zap.String("topic", topic), zap.String("trigger_id", note.TriggerID))
	return nil
}
