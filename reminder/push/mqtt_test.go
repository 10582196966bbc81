package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/alarmmanager"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail map[string]error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(p.fail[topic])
}

func TestMQTTNotifier_Notify(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "medalarm", 0, nil)

	err := n.Notify(context.Background(), []*alarmmanager.Notification{
		{AlarmID: "a1", ProfileID: "p1", TriggerID: "a1", Title: alarmmanager.TitleRegular, Body: "Paracetamol (500mg)"},
		{AlarmID: "a2", ProfileID: "p1", TriggerID: "a2", Title: alarmmanager.TitleCritical, Critical: true},
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 2)
	require.Equal(t, "medalarm/p1/alarms", pub.msgs[0].topic)
	require.Equal(t, byte(0), pub.msgs[0].qos)
	require.Equal(t, byte(1), pub.msgs[1].qos, "critical notifications need delivery guarantees")

	var got alarmmanager.Notification
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &got))
	require.Equal(t, "Paracetamol (500mg)", got.Body)
	require.Equal(t, "a1", got.AlarmID)
}

func TestMQTTNotifier_PublishFailure(t *testing.T) {
	pub := &fakePublisher{fail: map[string]error{"medalarm/p2/alarms": errors.New("broker gone")}}
	n := NewMQTTNotifier(pub, "medalarm", 1, nil)

	err := n.Notify(context.Background(), []*alarmmanager.Notification{
		{AlarmID: "a1", ProfileID: "p2"},
		{AlarmID: "a2", ProfileID: "p1"},
	})
	require.True(t, apperrors.Is(err, apperrors.ErrNetworkFailure))
	require.Len(t, pub.msgs, 2, "a failure does not stop the rest")
}
