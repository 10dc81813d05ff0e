package bridgemqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/lms_bridge/internal/adapters/clock"
	"github.com/mikey-austin/lms_bridge/internal/adapters/lmsclient"
	"github.com/mikey-austin/lms_bridge/pkg/bridge"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// fakeMQTTClient implements mqttClient for testing.
type fakeMQTTClient struct {
	mu        sync.Mutex
	subs      map[string]paho.MessageHandler
	published []publishedMessage
}

type publishedMessage struct {
	Topic    string
	Payload  []byte
	Retained bool
}

func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (f *fakeMQTTClient) Subscribe(topic string, qos byte, handler paho.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]paho.MessageHandler)
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeMQTTClient) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
	return nil
}

func (f *fakeMQTTClient) emit(topic string, payload []byte) {
	f.mu.Lock()
	handler := f.subs[topic]
	f.mu.Unlock()
	if handler != nil {
		handler(nil, fakeMessage{topic: topic, payload: payload})
	}
}

func (f *fakeMQTTClient) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

// last returns the most recent message published on topic.
func (f *fakeMQTTClient) last(topic string) (publishedMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].Topic == topic {
			return f.published[i], true
		}
	}
	return publishedMessage{}, false
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakePlayer struct {
	mu      sync.Mutex
	mode    lms.Mode
	tracks  uint64
	title   string
	calls   []string
	cmdErr  error
	readErr error
}

func (p *fakePlayer) Mode(ctx context.Context, id string) (lms.Mode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode, p.readErr
}
func (p *fakePlayer) Shuffle(ctx context.Context, id string) (lms.Shuffle, error) {
	return lms.ShuffleOff, nil
}
func (p *fakePlayer) Index(ctx context.Context, id string) (uint64, error) { return 0, nil }
func (p *fakePlayer) TrackCount(ctx context.Context, id string) (uint64, error) {
	return p.tracks, nil
}
func (p *fakePlayer) Artist(ctx context.Context, id string) (string, bool, error) {
	return "", false, nil
}
func (p *fakePlayer) Title(ctx context.Context, id string) (string, bool, error) {
	return p.title, p.title != "", nil
}
func (p *fakePlayer) Album(ctx context.Context, id string) (string, bool, error) {
	return "", false, nil
}
func (p *fakePlayer) record(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmdErr != nil {
		return p.cmdErr
	}
	p.calls = append(p.calls, name)
	if name == "play" {
		p.mode = lms.ModePlaying
	}
	return nil
}
func (p *fakePlayer) Play(ctx context.Context, id string) error      { return p.record("play") }
func (p *fakePlayer) Stop(ctx context.Context, id string) error      { return p.record("stop") }
func (p *fakePlayer) Pause(ctx context.Context, id string) error     { return p.record("pause") }
func (p *fakePlayer) PlayPause(ctx context.Context, id string) error { return p.record("toggle") }
func (p *fakePlayer) Previous(ctx context.Context, id string) error  { return p.record("prev") }
func (p *fakePlayer) Next(ctx context.Context, id string) error      { return p.record("next") }

var kitchen = lms.Player{Name: "Kitchen", ID: "aa:bb:cc:dd:ee:ff"}

func startModule(t *testing.T, player *fakePlayer) (*Module, *fakeMQTTClient) {
	t.Helper()
	client := &fakeMQTTClient{}
	m, err := NewModule(zap.NewNop(), client, Config{})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if err := m.Start(context.Background(), player, kitchen); err != nil {
		t.Fatalf("start: %v", err)
	}
	return m, client
}

func command(t *testing.T, cmdType string) []byte {
	t.Helper()
	cmd := bridge.CommandEnvelope{
		ID:      "c1",
		Type:    cmdType,
		TS:      time.Now().Unix(),
		From:    "test",
		ReplyTo: bridge.TopicReply(bridge.BaseTopic, "test"),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func reply(t *testing.T, client *fakeMQTTClient) bridge.ReplyEnvelope {
	t.Helper()
	msg, ok := client.last(bridge.TopicReply(bridge.BaseTopic, "test"))
	if !ok {
		t.Fatalf("no reply published")
	}
	var out bridge.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return out
}

func TestStartPublishesPresenceAndState(t *testing.T) {
	_, client := startModule(t, &fakePlayer{mode: lms.ModePaused, tracks: 3, title: "Blue"})
	nodeID := "lms-aa-bb-cc-dd-ee-ff"

	msg, ok := client.last(bridge.TopicPresence(bridge.BaseTopic, nodeID))
	if !ok || !msg.Retained {
		t.Fatalf("expected retained presence")
	}
	var presence bridge.Presence
	if err := json.Unmarshal(msg.Payload, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if presence.Name != "Kitchen" || presence.PlayerID != kitchen.ID || presence.Kind != bridge.KindPlayer {
		t.Fatalf("unexpected presence %+v", presence)
	}

	msg, ok = client.last(bridge.TopicState(bridge.BaseTopic, nodeID))
	if !ok || !msg.Retained {
		t.Fatalf("expected retained state")
	}
	var state bridge.PlayerState
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Mode != "Paused" || state.Tracks != 3 || state.Title != "Blue" {
		t.Fatalf("unexpected state %+v", state)
	}
	if !client.subscribed(bridge.TopicCommands(bridge.BaseTopic, nodeID)) {
		t.Fatalf("expected command subscription")
	}
}

func TestNotifyRepublishesState(t *testing.T) {
	player := &fakePlayer{}
	m, client := startModule(t, player)
	player.mu.Lock()
	player.mode = lms.ModePlaying
	player.mu.Unlock()

	if err := m.Notify(context.Background()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg, _ := client.last(bridge.TopicState(bridge.BaseTopic, m.nodeID))
	var state bridge.PlayerState
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Mode != "Playing" {
		t.Fatalf("expected Playing, got %q", state.Mode)
	}
}

func TestPlaybackCommand(t *testing.T) {
	player := &fakePlayer{}
	m, client := startModule(t, player)

	client.emit(m.cmdTopic, command(t, bridge.CmdPlay))
	out := reply(t, client)
	if !out.OK || out.ID != "c1" {
		t.Fatalf("expected ok reply, got %+v", out)
	}
	if len(player.calls) != 1 || player.calls[0] != "play" {
		t.Fatalf("expected play, got %v", player.calls)
	}

	client.emit(m.cmdTopic, command(t, bridge.CmdPrevious))
	if len(player.calls) != 2 || player.calls[1] != "prev" {
		t.Fatalf("expected prev, got %v", player.calls)
	}
}

func TestStateGet(t *testing.T) {
	m, client := startModule(t, &fakePlayer{mode: lms.ModePlaying})

	client.emit(m.cmdTopic, command(t, bridge.CmdStateGet))
	out := reply(t, client)
	if !out.OK {
		t.Fatalf("expected ok reply, got %+v", out)
	}
	var state bridge.PlayerState
	if err := json.Unmarshal(out.Body, &state); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if state.Mode != "Playing" {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestCommandErrors(t *testing.T) {
	m, client := startModule(t, &fakePlayer{})

	client.emit(m.cmdTopic, command(t, "playback.seek"))
	if out := reply(t, client); out.OK || out.Err.Code != bridge.CodeUnsupported {
		t.Fatalf("expected UNSUPPORTED, got %+v", out)
	}

	invalid, _ := json.Marshal(bridge.CommandEnvelope{ID: "c1", Type: bridge.CmdPlay, ReplyTo: bridge.TopicReply(bridge.BaseTopic, "test")})
	client.emit(m.cmdTopic, invalid)
	if out := reply(t, client); out.OK || out.Err.Code != bridge.CodeInvalid {
		t.Fatalf("expected INVALID, got %+v", out)
	}
}

func TestCommandFailureCodes(t *testing.T) {
	tests := map[string]struct {
		err  error
		code string
	}{
		"transport": {&lmsclient.Error{Op: "play", Kind: lmsclient.ErrTransport}, bridge.CodeUnavailable},
		"decode":    {&lmsclient.Error{Op: "play", Kind: lmsclient.ErrDecode}, bridge.CodeProtocol},
	}
	for name, test := range tests {
		player := &fakePlayer{}
		m, client := startModule(t, player)
		player.cmdErr = test.err
		client.emit(m.cmdTopic, command(t, bridge.CmdPlay))
		out := reply(t, client)
		if out.OK || out.Err == nil || out.Err.Code != test.code {
			t.Fatalf("%s: expected %s, got %+v", name, test.code, out)
		}
	}
}

func TestCloseClearsPresence(t *testing.T) {
	m, client := startModule(t, &fakePlayer{})
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if client.subscribed(m.cmdTopic) {
		t.Fatalf("expected unsubscribe")
	}
	msg, _ := client.last(bridge.TopicPresence(bridge.BaseTopic, m.nodeID))
	if len(msg.Payload) != 0 || !msg.Retained {
		t.Fatalf("expected retained empty presence, got %q", msg.Payload)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestConfiguredNodeID(t *testing.T) {
	client := &fakeMQTTClient{}
	m, err := NewModule(nil, client, Config{NodeID: "kitchen", TopicBase: "home", Name: "Kitchen Speaker"})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if err := m.Start(context.Background(), &fakePlayer{}, kitchen); err != nil {
		t.Fatalf("start: %v", err)
	}
	if m.cmdTopic != "home/node/kitchen/cmd" {
		t.Fatalf("unexpected command topic %q", m.cmdTopic)
	}
	topic, payload := PresenceWill("home", "kitchen")
	if topic != "home/node/kitchen/presence" || len(payload) != 0 {
		t.Fatalf("unexpected will %q %q", topic, payload)
	}
}

func TestTimestampsUseClock(t *testing.T) {
	client := &fakeMQTTClient{}
	at := time.Unix(1700000000, 0)
	m, err := NewModule(zap.NewNop(), client, Config{Clock: clock.Fixed(at)})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if err := m.Start(context.Background(), &fakePlayer{}, kitchen); err != nil {
		t.Fatalf("start: %v", err)
	}
	msg, _ := client.last(bridge.TopicState(bridge.BaseTopic, m.nodeID))
	var state bridge.PlayerState
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.TS != at.Unix() {
		t.Fatalf("expected ts %d, got %d", at.Unix(), state.TS)
	}
}

func TestErrorReplyUsesClock(t *testing.T) {
	client := &fakeMQTTClient{}
	at := time.Unix(1700000000, 0)
	m, err := NewModule(zap.NewNop(), client, Config{Clock: clock.Fixed(at)})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if err := m.Start(context.Background(), &fakePlayer{}, kitchen); err != nil {
		t.Fatalf("start: %v", err)
	}
	client.emit(m.cmdTopic, command(t, "playback.seek"))
	out := reply(t, client)
	if out.OK || out.TS != at.Unix() {
		t.Fatalf("expected error reply stamped %d, got %+v", at.Unix(), out)
	}
}

func TestRepublishRestoresRetainedState(t *testing.T) {
	client := &fakeMQTTClient{}
	m, err := NewModule(zap.NewNop(), client, Config{})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if err := m.Republish(context.Background()); err != nil || len(client.published) != 0 {
		t.Fatalf("republish before start must be a no-op, got %v %d", err, len(client.published))
	}
	if err := m.Start(context.Background(), &fakePlayer{mode: lms.ModePlaying}, kitchen); err != nil {
		t.Fatalf("start: %v", err)
	}
	// The broker's will cleared presence while the connection was down.
	presenceTopic := bridge.TopicPresence(bridge.BaseTopic, m.nodeID)
	if err := client.Publish(presenceTopic, 1, true, []byte{}); err != nil {
		t.Fatalf("publish will: %v", err)
	}
	if err := m.Republish(context.Background()); err != nil {
		t.Fatalf("republish: %v", err)
	}
	msg, _ := client.last(presenceTopic)
	if len(msg.Payload) == 0 || !msg.Retained {
		t.Fatalf("expected retained presence restored, got %q", msg.Payload)
	}
	if _, ok := client.last(bridge.TopicState(bridge.BaseTopic, m.nodeID)); !ok {
		t.Fatalf("expected state republished")
	}
}
