package core

import "github.com/mikey-austin/lms_bridge/pkg/lms"

// PlayersResult holds the server's player list.
type PlayersResult struct {
	Players []lms.Player `json:"players"`
}

// ServerResult describes the control server.
type ServerResult struct {
	Endpoint    string `json:"endpoint"`
	Version     string `json:"version"`
	PlayerCount uint64 `json:"player_count"`
}

// DiscoverResult describes a discovered control server.
type DiscoverResult struct {
	Address  string `json:"address"`
	Hostname string `json:"hostname"`
	Port     uint16 `json:"port"`
	UUID     string `json:"uuid"`
	Version  string `json:"version"`
}

// NowPlaying is a point-in-time view of a player. Metadata fields are empty
// when the server has no value for them.
type NowPlaying struct {
	Mode    lms.Mode    `json:"mode"`
	Shuffle lms.Shuffle `json:"shuffle"`
	Index   uint64      `json:"index"`
	Tracks  uint64      `json:"tracks"`
	Artist  string      `json:"artist,omitempty"`
	Title   string      `json:"title,omitempty"`
	Album   string      `json:"album,omitempty"`
}

// StatusResult holds a player and its now-playing state.
type StatusResult struct {
	Player lms.Player `json:"player"`
	State  NowPlaying `json:"state"`
}

// CommandResult reports an acknowledged playback command.
type CommandResult struct {
	Player  lms.Player `json:"player"`
	Command Command    `json:"command"`
}
