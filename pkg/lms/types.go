package lms

// Mode is the playback mode of a player.
type Mode int

const (
	ModeStopped Mode = iota
	ModePlaying
	ModePaused
)

// ParseMode maps the server's mode token. Unknown tokens are rejected.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "stop":
		return ModeStopped, true
	case "play":
		return ModePlaying, true
	case "pause":
		return ModePaused, true
	default:
		return ModeStopped, false
	}
}

func (m Mode) String() string {
	switch m {
	case ModePlaying:
		return "Playing"
	case ModePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Shuffle is the playlist shuffle mode of a player.
type Shuffle int

const (
	ShuffleOff Shuffle = iota
	ShuffleBySong
	ShuffleByAlbum
)

// ShuffleFromCode maps the numeric shuffle code (0, 1, 2).
func ShuffleFromCode(code uint64) (Shuffle, bool) {
	switch code {
	case 0:
		return ShuffleOff, true
	case 1:
		return ShuffleBySong, true
	case 2:
		return ShuffleByAlbum, true
	default:
		return ShuffleOff, false
	}
}

// ParseShuffle maps the string form of the shuffle code.
func ParseShuffle(s string) (Shuffle, bool) {
	switch s {
	case "0":
		return ShuffleOff, true
	case "1":
		return ShuffleBySong, true
	case "2":
		return ShuffleByAlbum, true
	default:
		return ShuffleOff, false
	}
}

func (s Shuffle) String() string {
	switch s {
	case ShuffleBySong:
		return "songs"
	case ShuffleByAlbum:
		return "albums"
	default:
		return "off"
	}
}

// MarshalText encodes the shuffle mode by name.
func (s Shuffle) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Player is one entry of the server's player collection. ID is opaque.
type Player struct {
	Name  string `json:"name"`
	ID    string `json:"playerid"`
	Model string `json:"model,omitempty"`
	IP    string `json:"ip,omitempty"`
}
