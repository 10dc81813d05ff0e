package ports

import (
	"context"

	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// PlayerLister enumerates the players known to the control server.
type PlayerLister interface {
	Players(ctx context.Context) ([]lms.Player, error)
}

// ModeSource reports the playback mode of a player.
type ModeSource interface {
	Mode(ctx context.Context, playerID string) (lms.Mode, error)
}

// StatusReader reads now-playing state of a player. The metadata accessors
// report ok=false when the server has no value for the current track.
type StatusReader interface {
	ModeSource
	Shuffle(ctx context.Context, playerID string) (lms.Shuffle, error)
	Index(ctx context.Context, playerID string) (uint64, error)
	TrackCount(ctx context.Context, playerID string) (uint64, error)
	Artist(ctx context.Context, playerID string) (string, bool, error)
	Title(ctx context.Context, playerID string) (string, bool, error)
	Album(ctx context.Context, playerID string) (string, bool, error)
}

// Controller issues playback commands.
type Controller interface {
	Play(ctx context.Context, playerID string) error
	Stop(ctx context.Context, playerID string) error
	Pause(ctx context.Context, playerID string) error
	PlayPause(ctx context.Context, playerID string) error
	Previous(ctx context.Context, playerID string) error
	Next(ctx context.Context, playerID string) error
}

// ServerInfo reports control server wide facts.
type ServerInfo interface {
	Version(ctx context.Context) (string, error)
	PlayerCount(ctx context.Context) (uint64, error)
}

// Player is everything a presentation layer needs from the control client.
type Player interface {
	StatusReader
	Controller
}

// Client is the full control client surface.
type Client interface {
	PlayerLister
	ServerInfo
	Player
}

// Notifier receives the playback mode change signal. It carries no payload;
// implementations re-read whatever state they expose.
type Notifier interface {
	Notify(ctx context.Context) error
}
