package lms

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Method is the only JSON-RPC method the control server exposes.
const Method = "slim.request"

// RPCPath is the HTTP path of the JSON endpoint.
const RPCPath = "/jsonrpc.js"

// DefaultPort is the default HTTP port of the control server.
const DefaultPort = 9000

// Params is the positional [targetId, [tokens...]] pair used by requests and
// echoed back in responses.
type Params struct {
	Target string
	Tokens []string
}

// MarshalJSON encodes params as a two element array.
func (p Params) MarshalJSON() ([]byte, error) {
	tokens := p.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	return json.Marshal([]any{p.Target, tokens})
}

// UnmarshalJSON decodes the two element array form.
func (p *Params) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("params: expected 2 elements, got %d", len(raw))
	}
	var out Params
	if err := json.Unmarshal(raw[0], &out.Target); err != nil {
		return fmt.Errorf("params target: %w", err)
	}
	if err := json.Unmarshal(raw[1], &out.Tokens); err != nil {
		return fmt.Errorf("params tokens: %w", err)
	}
	*p = out
	return nil
}

// Request is the body POSTed to the control server.
type Request struct {
	Method string `json:"method"`
	Params Params `json:"params"`
}

// Response is the body returned by the control server.
type Response struct {
	Method string `json:"method"`
	Params Params `json:"params"`
	Result Value  `json:"result"`
}

// Key names a field of a response result object.
type Key struct {
	Name string
	// Queried is set for "<attr> ?" requests, whose result key depends on
	// the server's naming convention.
	Queried bool
}

// KeyStyle selects how queried keys are looked up in a result object.
type KeyStyle int

const (
	// KeyAuto tries the underscore form first, then the bare attribute name.
	KeyAuto KeyStyle = iota
	// KeyUnderscore matches "_<attr>" only.
	KeyUnderscore
	// KeyPlain matches "<attr>" only.
	KeyPlain
)

// ParseKeyStyle parses a config value.
func ParseKeyStyle(s string) (KeyStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return KeyAuto, nil
	case "underscore":
		return KeyUnderscore, nil
	case "plain":
		return KeyPlain, nil
	default:
		return KeyAuto, fmt.Errorf("unknown key style %q (want auto|underscore|plain)", s)
	}
}

func (s KeyStyle) String() string {
	switch s {
	case KeyUnderscore:
		return "underscore"
	case KeyPlain:
		return "plain"
	default:
		return "auto"
	}
}

// Candidates returns the result keys to try for k, in order.
func (s KeyStyle) Candidates(k Key) []string {
	if !k.Queried {
		return []string{k.Name}
	}
	switch s {
	case KeyUnderscore:
		return []string{"_" + k.Name}
	case KeyPlain:
		return []string{k.Name}
	default:
		return []string{"_" + k.Name, k.Name}
	}
}

// ErrNotObject is returned by Lookup when the result is not a JSON object.
var ErrNotObject = errors.New("result is not an object")

// Lookup locates k in the response result. The boolean is false when the
// result is an object that does not carry any candidate key.
func (r Response) Lookup(style KeyStyle, k Key) (Value, string, bool, error) {
	obj, ok := r.Result.Object()
	if !ok {
		return Value{}, "", false, fmt.Errorf("%w: got %s", ErrNotObject, r.Result.Kind())
	}
	for _, name := range style.Candidates(k) {
		if v, ok := obj[name]; ok {
			return v, name, true, nil
		}
	}
	return Value{}, "", false, nil
}

func newRequest(target string, tokens ...string) Request {
	return Request{
		Method: Method,
		Params: Params{Target: target, Tokens: append([]string{}, tokens...)},
	}
}

func (r Request) with(tokens ...string) Request {
	r.Params.Tokens = append(append([]string{}, r.Params.Tokens...), tokens...)
	return r
}

func (r Request) question(attr string) (Request, Key) {
	return r.with(attr, "?"), Key{Name: attr, Queried: true}
}

func playlist(target string) Request {
	return newRequest(target, "playlist")
}

// VersionRequest asks for the server version.
func VersionRequest() (Request, Key) {
	return newRequest("").question("version")
}

// ConnectedRequest asks whether a player is connected.
func ConnectedRequest(playerID string) (Request, Key) {
	return newRequest(playerID).question("connected")
}

// PlayersRequest lists the known players.
func PlayersRequest() (Request, Key) {
	return newRequest("", "players", "0"), Key{Name: "players_loop"}
}

// PlayerCountRequest counts the known players.
func PlayerCountRequest() (Request, Key) {
	return newRequest("", "players", "0"), Key{Name: "count"}
}

// ModeRequest asks for the playback mode.
func ModeRequest(playerID string) (Request, Key) {
	return newRequest(playerID).question("mode")
}

// ArtistRequest asks for the current track artist.
func ArtistRequest(playerID string) (Request, Key) {
	return newRequest(playerID).question("artist")
}

// TitleRequest asks for the current track title.
func TitleRequest(playerID string) (Request, Key) {
	return newRequest(playerID).question("title")
}

// AlbumRequest asks for the current track album.
func AlbumRequest(playerID string) (Request, Key) {
	return newRequest(playerID).question("album")
}

// ShuffleRequest asks for the playlist shuffle mode.
func ShuffleRequest(playerID string) (Request, Key) {
	return playlist(playerID).question("shuffle")
}

// IndexRequest asks for the current playlist index.
func IndexRequest(playerID string) (Request, Key) {
	return playlist(playerID).question("index")
}

// TrackCountRequest asks for the playlist length.
func TrackCountRequest(playerID string) (Request, Key) {
	return playlist(playerID).question("tracks")
}

// PlayRequest starts playback.
func PlayRequest(playerID string) Request {
	return newRequest(playerID, "play")
}

// StopRequest stops playback.
func StopRequest(playerID string) Request {
	return newRequest(playerID, "stop")
}

// PauseRequest pauses playback.
func PauseRequest(playerID string) Request {
	return newRequest(playerID, "pause", "1")
}

// PlayPauseRequest toggles between play and pause.
func PlayPauseRequest(playerID string) Request {
	return newRequest(playerID, "pause")
}

// PreviousRequest skips to the previous track.
func PreviousRequest(playerID string) Request {
	return playlist(playerID).with("index", "-1")
}

// NextRequest skips to the next track.
func NextRequest(playerID string) Request {
	return playlist(playerID).with("index", "+1")
}
