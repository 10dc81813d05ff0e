package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix.
const BaseTopic = "lms"

// KindPlayer is the presence kind published for a bridged player.
const KindPlayer = "player"

// Command types accepted on a node's command topic.
const (
	CmdPlay     = "playback.play"
	CmdPause    = "playback.pause"
	CmdToggle   = "playback.toggle"
	CmdStop     = "playback.stop"
	CmdNext     = "playback.next"
	CmdPrevious = "playback.prev"
	CmdStateGet = "state.get"
)

// Reply error codes.
const (
	CodeInvalid     = "INVALID"
	CodeUnsupported = "UNSUPPORTED"
	CodeUnavailable = "UNAVAILABLE"
	CodeProtocol    = "PROTOCOL"
)

// CommandEnvelope is the controller command envelope.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// ReplyEnvelope is the response envelope for commands.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Presence describes a bridged player node.
type Presence struct {
	NodeID   string         `json:"nodeId"`
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	PlayerID string         `json:"playerId"`
	Caps     map[string]any `json:"caps,omitempty"`
	TS       int64          `json:"ts"`
}

// PlayerState is the retained state of a bridged player.
type PlayerState struct {
	Mode    string `json:"mode"`
	Shuffle string `json:"shuffle"`
	Index   uint64 `json:"index"`
	Tracks  uint64 `json:"tracks"`
	Artist  string `json:"artist,omitempty"`
	Title   string `json:"title,omitempty"`
	Album   string `json:"album,omitempty"`
	TS      int64  `json:"ts"`
}

// NewCommand builds a command envelope with an optional JSON body.
func NewCommand(cmdType string, body any) (CommandEnvelope, error) {
	cmd := CommandEnvelope{Type: cmdType}
	if body == nil {
		return cmd, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}
	cmd.Body = payload
	return cmd, nil
}

// ValidateCommandEnvelope validates required fields.
func ValidateCommandEnvelope(cmd CommandEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("type is required")
	}
	if cmd.TS <= 0 {
		return errors.New("ts must be a positive unix timestamp")
	}
	if strings.TrimSpace(cmd.From) == "" {
		return errors.New("from is required")
	}
	if len(cmd.Body) > 0 && !json.Valid(cmd.Body) {
		return errors.New("body must be valid JSON")
	}
	return nil
}

// KnownCommand reports whether cmdType is handled by bridged players.
func KnownCommand(cmdType string) bool {
	switch cmdType {
	case CmdPlay, CmdPause, CmdToggle, CmdStop, CmdNext, CmdPrevious, CmdStateGet:
		return true
	default:
		return false
	}
}

// PlaybackAction returns the action name of a playback command, e.g.
// "play" for playback.play.
func PlaybackAction(cmdType string) (string, bool) {
	action, ok := strings.CutPrefix(cmdType, "playback.")
	if !ok || !KnownCommand(cmdType) {
		return "", false
	}
	return action, true
}

// TopicPresence builds the presence topic for a node.
func TopicPresence(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/presence", topicBase, nodeID)
}

// TopicState builds the state topic for a node.
func TopicState(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/state", topicBase, nodeID)
}

// TopicCommands builds the command topic for a node.
func TopicCommands(topicBase, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/cmd", topicBase, nodeID)
}

// TopicReply builds the reply topic for a controller instance.
func TopicReply(topicBase, controllerID string) string {
	return fmt.Sprintf("%s/reply/%s", topicBase, controllerID)
}

// NodeID derives a topic-safe node id from a player id such as a MAC
// address.
func NodeID(playerID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(playerID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return "lms-" + b.String()
}
