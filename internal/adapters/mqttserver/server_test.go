package mqttserver

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// fakePaho records subscriptions; anything else panics through the nil
// embedded interface.
type fakePaho struct {
	paho.Client
	subscribed   []string
	unsubscribed []string
	err          error
}

func (f *fakePaho) Subscribe(topic string, qos byte, handler paho.MessageHandler) paho.Token {
	f.subscribed = append(f.subscribed, topic)
	return doneToken{err: f.err}
}

func (f *fakePaho) Unsubscribe(topics ...string) paho.Token {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return doneToken{}
}

func newTestClient(fake *fakePaho) *Client {
	return &Client{client: fake, log: zap.NewNop(), subs: map[string]subscription{}}
}

func TestRestoreReplaysSubscriptions(t *testing.T) {
	fake := &fakePaho{}
	c := newTestClient(fake)
	handler := func(paho.Client, paho.Message) {}
	if err := c.Subscribe("lms/node/a/cmd", 1, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Subscribe("lms/node/b/cmd", 1, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Unsubscribe("lms/node/b/cmd"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	restored := 0
	c.OnRestore(func() { restored++ })

	reconnected := &fakePaho{}
	c.restore(reconnected)
	if !reflect.DeepEqual(reconnected.subscribed, []string{"lms/node/a/cmd"}) {
		t.Fatalf("unexpected resubscriptions %v", reconnected.subscribed)
	}
	if restored != 1 {
		t.Fatalf("expected restore hook to run once, got %d", restored)
	}
}

func TestRestoreContinuesAfterFailure(t *testing.T) {
	c := newTestClient(&fakePaho{})
	handler := func(paho.Client, paho.Message) {}
	for _, topic := range []string{"lms/a", "lms/b"} {
		if err := c.Subscribe(topic, 0, handler); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	restored := false
	c.OnRestore(func() { restored = true })
	reconnected := &fakePaho{err: errors.New("not authorized")}
	c.restore(reconnected)
	sort.Strings(reconnected.subscribed)
	if !reflect.DeepEqual(reconnected.subscribed, []string{"lms/a", "lms/b"}) || !restored {
		t.Fatalf("expected every topic attempted and hooks run, got %v %v", reconnected.subscribed, restored)
	}
}

func TestFailedSubscribeIsNotReplayed(t *testing.T) {
	c := newTestClient(&fakePaho{err: errors.New("denied")})
	if err := c.Subscribe("lms/a", 1, func(paho.Client, paho.Message) {}); err == nil {
		t.Fatalf("expected subscribe error")
	}
	if len(c.subs) != 0 {
		t.Fatalf("failed subscription must not be kept")
	}
}

func TestTLSFilesDisabled(t *testing.T) {
	var files TLSFiles
	if files.Enabled() {
		t.Fatalf("empty files must disable tls")
	}
	client, err := files.ClientConfig()
	if err != nil || client != nil {
		t.Fatalf("expected no client config, got %v %v", client, err)
	}
	server, err := files.ServerConfig()
	if err != nil || server != nil {
		t.Fatalf("expected no server config, got %v %v", server, err)
	}
}

func TestTLSFilesRequirePair(t *testing.T) {
	if _, err := (TLSFiles{Cert: "cert.pem"}).ClientConfig(); err == nil {
		t.Fatalf("expected error for cert without key")
	}
	if _, err := (TLSFiles{Key: "key.pem"}).ServerConfig(); err == nil {
		t.Fatalf("expected error for key without cert")
	}
}

func TestTLSFilesListenerNeedsKeyPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	if _, err := (TLSFiles{CA: path}).ServerConfig(); err == nil || !strings.Contains(err.Error(), "cert and key") {
		t.Fatalf("expected key pair error, got %v", err)
	}
}

func TestTLSFilesRejectBadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	if _, err := (TLSFiles{CA: path}).ClientConfig(); err == nil {
		t.Fatalf("expected error for invalid CA bundle")
	}
}

func TestTruncatePayload(t *testing.T) {
	long := strings.Repeat("x", 3000)
	got := truncatePayload([]byte(long))
	if len(got) != 2048+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation length %d", len(got))
	}
	if truncatePayload([]byte("short")) != "short" {
		t.Fatalf("short payload must be unchanged")
	}
}
