package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/branch"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeConn struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	timeout    bool
	sent       []published
}

func (f *fakeConn) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return &fakeToken{}
}

func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return &fakeToken{err: f.publishErr, timeout: f.timeout}
}

func (f *fakeConn) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func newTestClient(fc *fakeConn) *Client {
	return newClient(fc, Options{TopicPrefix: "studio", QoS: 1}, zap.NewNop())
}

func TestNotifyPublishesJSON(t *testing.T) {
	fc := &fakeConn{}
	c := newTestClient(fc)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	n := branch.Notification{
		Action:    branch.ActionMerge,
		Branch:    "feature/menu",
		Target:    "main",
		Author:    "alice",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := c.Notify(context.Background(), n); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(fc.sent) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fc.sent))
	}
	msg := fc.sent[0]
	if msg.topic != "studio/branches/merged" {
		t.Errorf("unexpected topic %q", msg.topic)
	}
	if msg.qos != 1 {
		t.Errorf("expected qos 1, got %d", msg.qos)
	}
	var got branch.Notification
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Branch != "feature/menu" || got.Target != "main" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestNotifyWhileDisconnected(t *testing.T) {
	fc := &fakeConn{}
	c := newTestClient(fc)

	err := c.Notify(context.Background(), branch.Notification{Action: branch.ActionCreate})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if len(fc.sent) != 0 {
		t.Error("nothing should be published while disconnected")
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ping to fail, got %v", err)
	}
}

func TestPublishErrors(t *testing.T) {
	fc := &fakeConn{connected: true, timeout: true}
	c := newTestClient(fc)

	var timeoutErr *PublishTimeoutError
	if err := c.Publish("studio/x", []byte("{}")); !errors.As(err, &timeoutErr) {
		t.Errorf("expected PublishTimeoutError, got %v", err)
	}

	fc.timeout = false
	fc.publishErr = errors.New("broker said no")
	if err := c.Publish("studio/x", []byte("{}")); err == nil || err.Error() != "broker said no" {
		t.Errorf("expected broker error, got %v", err)
	}
}

func TestTopics(t *testing.T) {
	c := newTestClient(&fakeConn{})
	cases := map[string]string{
		branch.ActionCreate: "studio/branches/created",
		branch.ActionUpdate: "studio/branches/updated",
		branch.ActionDelete: "studio/branches/deleted",
		"SOMETHING_ELSE":    "studio/branches/other",
	}
	for action, want := range cases {
		if got := c.Topic(action); got != want {
			t.Errorf("Topic(%s) = %q, want %q", action, got, want)
		}
	}
}

func TestStoreNotifiesOverMQTT(t *testing.T) {
	fc := &fakeConn{connected: true}
	store := branch.NewStore(branch.NewMemoryBackend(), branch.WithNotifier(newTestClient(fc)))

	if _, err := store.CreateBranch(context.Background(), "feature", "", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(fc.sent) != 1 || fc.sent[0].topic != "studio/branches/created" {
		t.Errorf("expected one created notification, got %+v", fc.sent)
	}
}

func TestBrokerURLFromEnv(t *testing.T) {
	t.Setenv("MQTT_URL", "")
	if got := BrokerURL(); got != "tcp://localhost:1883" {
		t.Errorf("default broker = %q", got)
	}
	t.Setenv("MQTT_URL", "tcp://mqtt:1883")
	if got := BrokerURL(); got != "tcp://mqtt:1883" {
		t.Errorf("env broker = %q", got)
	}
}
