package bridgemqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/lms_bridge/internal/adapters/clock"
	"github.com/mikey-austin/lms_bridge/internal/adapters/lmsclient"
	"github.com/mikey-austin/lms_bridge/internal/core"
	"github.com/mikey-austin/lms_bridge/internal/ports"
	"github.com/mikey-austin/lms_bridge/pkg/bridge"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config configures the MQTT presentation module. An empty NodeID is
// derived from the player id once the player is known.
type Config struct {
	NodeID    string
	TopicBase string
	Name      string
	Clock     clock.Clock
}

// Module publishes a bridged player on MQTT and accepts playback commands.
type Module struct {
	log    *zap.Logger
	client mqttClient
	config Config

	mu       sync.Mutex
	ctx      context.Context
	player   ports.Player
	target   lms.Player
	nodeID   string
	cmdTopic string
	started  bool
}

// NewModule creates the module.
func NewModule(log *zap.Logger, client mqttClient, cfg Config) (*Module, error) {
	if client == nil {
		return nil, errors.New("mqtt client required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = bridge.BaseTopic
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Module{log: log, client: client, config: cfg}, nil
}

// Name returns the module name.
func (m *Module) Name() string {
	return "bridge_mqtt"
}

// Start announces the player and subscribes to its command topic.
func (m *Module) Start(ctx context.Context, client ports.Player, player lms.Player) error {
	nodeID := strings.TrimSpace(m.config.NodeID)
	if nodeID == "" {
		nodeID = bridge.NodeID(player.ID)
	}
	m.mu.Lock()
	m.ctx = ctx
	m.player = client
	m.target = player
	m.nodeID = nodeID
	m.cmdTopic = bridge.TopicCommands(m.config.TopicBase, nodeID)
	m.mu.Unlock()

	if err := m.publishPresence(); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	handler := func(_ paho.Client, msg paho.Message) {
		m.handleMessage(msg)
	}
	if err := m.client.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.cmdTopic, err)
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	m.log.Info("mqtt bridge started", zap.String("node_id", nodeID), zap.String("player_id", player.ID))
	return m.publishState(ctx)
}

// Notify republishes the retained player state.
func (m *Module) Notify(ctx context.Context) error {
	return m.publishState(ctx)
}

// Republish restores the retained presence and state, which the broker
// clears through the will when the connection drops. It does nothing
// before Start.
func (m *Module) Republish(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}
	if err := m.publishPresence(); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return m.publishState(ctx)
}

// Close unsubscribes and clears the retained presence.
func (m *Module) Close() error {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if !started {
		return nil
	}
	var errs []error
	if err := m.client.Unsubscribe(m.cmdTopic); err != nil {
		errs = append(errs, err)
	}
	if err := m.client.Publish(bridge.TopicPresence(m.config.TopicBase, m.nodeID), 1, true, []byte{}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PresenceWill returns the payload-less retained message that clears the
// presence of nodeID when the connection drops.
func PresenceWill(topicBase, nodeID string) (topic string, payload []byte) {
	if strings.TrimSpace(topicBase) == "" {
		topicBase = bridge.BaseTopic
	}
	return bridge.TopicPresence(topicBase, nodeID), []byte{}
}

func (m *Module) now() int64 {
	return m.config.Clock.Now().Unix()
}

func (m *Module) publishPresence() error {
	name := m.config.Name
	if strings.TrimSpace(name) == "" {
		name = m.target.Name
	}
	commands := make([]string, 0, len(core.Commands))
	for _, cmd := range core.Commands {
		commands = append(commands, string(cmd))
	}
	presence := bridge.Presence{
		NodeID:   m.nodeID,
		Kind:     bridge.KindPlayer,
		Name:     name,
		PlayerID: m.target.ID,
		Caps: map[string]any{
			"commands": commands,
			"seek":     false,
			"volume":   false,
		},
		TS: m.now(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(bridge.TopicPresence(m.config.TopicBase, m.nodeID), 1, true, payload)
}

func (m *Module) snapshot(ctx context.Context) (bridge.PlayerState, error) {
	state, err := core.Snapshot(ctx, m.player, m.target.ID)
	if err != nil {
		return bridge.PlayerState{}, err
	}
	return bridge.PlayerState{
		Mode:    state.Mode.String(),
		Shuffle: state.Shuffle.String(),
		Index:   state.Index,
		Tracks:  state.Tracks,
		Artist:  state.Artist,
		Title:   state.Title,
		Album:   state.Album,
		TS:      m.now(),
	}, nil
}

func (m *Module) publishState(ctx context.Context) error {
	state, err := m.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.client.Publish(bridge.TopicState(m.config.TopicBase, m.nodeID), 1, true, payload)
}

func (m *Module) handleMessage(msg paho.Message) {
	var cmd bridge.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	reply := m.dispatch(ctx, cmd)
	if cmd.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := m.client.Publish(cmd.ReplyTo, 1, false, payload); err != nil {
		m.log.Warn("publish reply", zap.String("topic", cmd.ReplyTo), zap.Error(err))
	}
}

func (m *Module) dispatch(ctx context.Context, cmd bridge.CommandEnvelope) bridge.ReplyEnvelope {
	if err := bridge.ValidateCommandEnvelope(cmd); err != nil {
		return m.errorReply(cmd, bridge.CodeInvalid, err.Error())
	}
	reply := bridge.ReplyEnvelope{ID: cmd.ID, Type: "ack", OK: true, TS: m.now()}

	if cmd.Type == bridge.CmdStateGet {
		state, err := m.snapshot(ctx)
		if err != nil {
			return m.clientErrorReply(cmd, err)
		}
		body, err := json.Marshal(state)
		if err != nil {
			return m.errorReply(cmd, bridge.CodeProtocol, err.Error())
		}
		reply.Body = body
		return reply
	}

	action, ok := bridge.PlaybackAction(cmd.Type)
	if !ok {
		return m.errorReply(cmd, bridge.CodeUnsupported, fmt.Sprintf("unsupported command %q", cmd.Type))
	}
	parsed, err := core.ParseCommand(action)
	if err != nil {
		return m.errorReply(cmd, bridge.CodeUnsupported, err.Error())
	}
	m.log.Debug("mqtt command", zap.String("type", cmd.Type), zap.String("from", cmd.From))
	if err := core.Apply(ctx, m.player, m.target.ID, parsed); err != nil {
		return m.clientErrorReply(cmd, err)
	}
	if err := m.publishState(ctx); err != nil {
		m.log.Warn("publish state", zap.Error(err))
	}
	return reply
}

func (m *Module) clientErrorReply(cmd bridge.CommandEnvelope, err error) bridge.ReplyEnvelope {
	code := bridge.CodeProtocol
	if errors.Is(err, lmsclient.ErrTransport) || errors.Is(err, context.Canceled) {
		code = bridge.CodeUnavailable
	}
	return m.errorReply(cmd, code, err.Error())
}

func (m *Module) errorReply(cmd bridge.CommandEnvelope, code, msg string) bridge.ReplyEnvelope {
	return bridge.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   m.now(),
		Err: &bridge.ReplyError{
			Code:    code,
			Message: msg,
		},
	}
}
