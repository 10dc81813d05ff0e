package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikey-austin/lms_bridge/internal/ports"
)

// Command is a playback command understood by every front end.
type Command string

const (
	CommandPlay     Command = "play"
	CommandPause    Command = "pause"
	CommandToggle   Command = "toggle"
	CommandStop     Command = "stop"
	CommandNext     Command = "next"
	CommandPrevious Command = "prev"
)

// Commands lists the supported commands in display order.
var Commands = []Command{CommandPlay, CommandPause, CommandToggle, CommandStop, CommandNext, CommandPrevious}

// ParseCommand parses a command name.
func ParseCommand(name string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "previous" {
		return CommandPrevious, nil
	}
	for _, cmd := range Commands {
		if string(cmd) == name {
			return cmd, nil
		}
	}
	return "", &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("unknown command %q", name)}
}

// Apply sends cmd to a player.
func Apply(ctx context.Context, ctrl ports.Controller, playerID string, cmd Command) error {
	switch cmd {
	case CommandPlay:
		return ctrl.Play(ctx, playerID)
	case CommandPause:
		return ctrl.Pause(ctx, playerID)
	case CommandToggle:
		return ctrl.PlayPause(ctx, playerID)
	case CommandStop:
		return ctrl.Stop(ctx, playerID)
	case CommandNext:
		return ctrl.Next(ctx, playerID)
	case CommandPrevious:
		return ctrl.Previous(ctx, playerID)
	default:
		return &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("unknown command %q", cmd)}
	}
}

// Snapshot reads the now-playing state of a player. Track metadata is only
// queried when the playlist is not empty.
func Snapshot(ctx context.Context, reader ports.StatusReader, playerID string) (NowPlaying, error) {
	var out NowPlaying
	var err error
	if out.Mode, err = reader.Mode(ctx, playerID); err != nil {
		return NowPlaying{}, err
	}
	if out.Shuffle, err = reader.Shuffle(ctx, playerID); err != nil {
		return NowPlaying{}, err
	}
	if out.Tracks, err = reader.TrackCount(ctx, playerID); err != nil {
		return NowPlaying{}, err
	}
	if out.Tracks == 0 {
		return out, nil
	}
	if out.Index, err = reader.Index(ctx, playerID); err != nil {
		return NowPlaying{}, err
	}
	if out.Artist, _, err = reader.Artist(ctx, playerID); err != nil {
		return NowPlaying{}, err
	}
	if out.Title, _, err = reader.Title(ctx, playerID); err != nil {
		return NowPlaying{}, err
	}
	if out.Album, _, err = reader.Album(ctx, playerID); err != nil {
		return NowPlaying{}, err
	}
	return out, nil
}

// Service orchestrates lmsctl use cases.
type Service struct {
	Client   ports.Client
	Resolver Resolver
	Endpoint string
}

// Server returns the server version and player count.
func (s Service) Server(ctx context.Context) (ServerResult, error) {
	version, err := s.Client.Version(ctx)
	if err != nil {
		return ServerResult{}, WrapClientError("get version", err)
	}
	count, err := s.Client.PlayerCount(ctx)
	if err != nil {
		return ServerResult{}, WrapClientError("count players", err)
	}
	return ServerResult{Endpoint: s.Endpoint, Version: version, PlayerCount: count}, nil
}

// ListPlayers returns the players known to the server.
func (s Service) ListPlayers(ctx context.Context) (PlayersResult, error) {
	players, err := s.Client.Players(ctx)
	if err != nil {
		return PlayersResult{}, WrapClientError("list players", err)
	}
	return PlayersResult{Players: players}, nil
}

// Status returns the now-playing state of the selected player.
func (s Service) Status(ctx context.Context, selector string) (StatusResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return StatusResult{}, err
	}
	state, err := Snapshot(ctx, s.Client, player.ID)
	if err != nil {
		return StatusResult{}, WrapClientError("read status", err)
	}
	return StatusResult{Player: player, State: state}, nil
}

// Do sends a playback command to the selected player.
func (s Service) Do(ctx context.Context, selector string, cmd Command) (CommandResult, error) {
	player, err := s.Resolver.ResolvePlayer(ctx, selector)
	if err != nil {
		return CommandResult{}, err
	}
	if err := Apply(ctx, s.Client, player.ID, cmd); err != nil {
		if cliErr, ok := err.(*CLIError); ok {
			return CommandResult{}, cliErr
		}
		return CommandResult{}, WrapClientError(string(cmd), err)
	}
	return CommandResult{Player: player, Command: cmd}, nil
}
