package lmsbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/lms_bridge/internal/adapters/discovery"
	"github.com/mikey-austin/lms_bridge/internal/ports"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// Client is the control client as used by the supervisor.
type Client interface {
	ports.Client
	Errors() <-chan error
	Close()
}

// Child is a running managed player process.
type Child interface {
	Done() <-chan struct{}
	ExitCode() (code int, hasCode bool)
	Alive() bool
	Terminate(grace time.Duration) error
}

// Presenter exposes the bridged player to remote callers. Start is called
// once the player is available; Notify whenever its playback mode changes.
type Presenter interface {
	ports.Notifier
	Name() string
	Start(ctx context.Context, client ports.Player, player lms.Player) error
	Close() error
}

// Options tune the supervisor. An empty Address enables discovery.
type Options struct {
	Address          string
	PlayerName       string
	WaitTimeout      time.Duration
	WaitInterval     time.Duration
	PollInterval     time.Duration
	TerminateGrace   time.Duration
	DiscoveryTimeout time.Duration
	DiscoveryAttempt time.Duration
}

// Supervisor drives the bridge lifecycle: discover, launch the player,
// wait for it to register, then bridge state until something fails.
type Supervisor struct {
	Log        *zap.Logger
	Options    Options
	Discoverer discovery.Discoverer
	Dial       func(address string) (Client, error)
	Launch     func(name, server string) (Child, error)
	Presenters []Presenter
}

// Run never returns nil: the bridge only stops on a failure, an exit of
// the player process, or cancellation of ctx. The player process is not
// left running on return.
func (s Supervisor) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	address := s.Options.Address
	server := PlayerServer(address)
	if address == "" {
		if s.Discoverer == nil {
			return errors.New("no control server address and discovery disabled")
		}
		log.Info("state", zap.String("phase", "discovering"))
		reply, err := discovery.DiscoverWithin(ctx, s.Discoverer, s.Options.DiscoveryTimeout, s.Options.DiscoveryAttempt)
		if err != nil {
			return fmt.Errorf("discover: %w", err)
		}
		address = reply.Endpoint()
		server = reply.Host()
	}

	client, err := s.Dial(address)
	if err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}
	defer client.Close()

	log.Info("state", zap.String("phase", "launching"), zap.String("server", server))
	child, err := s.Launch(s.Options.PlayerName, server)
	if err != nil {
		return fmt.Errorf("launch player: %w", err)
	}

	result := s.bridge(ctx, log, client, child)

	log.Info("state", zap.String("phase", "terminating"), zap.Error(result))
	if child.Alive() {
		if err := child.Terminate(s.Options.TerminateGrace); err != nil {
			log.Error("terminate player", zap.Error(err))
		}
	}
	log.Info("state", zap.String("phase", "done"))
	return result
}

// bridge runs the waiting and running phases and returns the terminal cause.
func (s Supervisor) bridge(ctx context.Context, log *zap.Logger, client Client, child Child) error {
	log.Info("state", zap.String("phase", "waiting"), zap.String("player", s.Options.PlayerName))
	waitCtx, cancelWait := context.WithCancel(ctx)
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-child.Done():
			cancelWait()
		case <-stopWatch:
		}
	}()
	playerID, err := WaitForPlayer(waitCtx, client, s.Options.PlayerName, s.Options.WaitTimeout, s.Options.WaitInterval)
	close(stopWatch)
	cancelWait()
	if err != nil {
		if !child.Alive() && ctx.Err() == nil {
			return childExit(child)
		}
		return err
	}
	player := lms.Player{Name: s.Options.PlayerName, ID: playerID}

	started := make([]Presenter, 0, len(s.Presenters))
	defer func() {
		for _, p := range started {
			if err := p.Close(); err != nil {
				log.Warn("close presenter", zap.String("presenter", p.Name()), zap.Error(err))
			}
		}
	}()
	notifiers := make(Notifiers, 0, len(s.Presenters))
	for _, p := range s.Presenters {
		if err := p.Start(ctx, client, player); err != nil {
			return fmt.Errorf("start %s: %w", p.Name(), err)
		}
		started = append(started, p)
		notifiers = append(notifiers, p)
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	pollDone := make(chan error, 1)
	go func() {
		pollDone <- Poller{
			Log:      log.With(zap.String("component", "poller")),
			Source:   client,
			Notifier: notifiers,
			PlayerID: playerID,
			Interval: s.Options.PollInterval,
		}.Run(pollCtx)
	}()
	log.Info("state", zap.String("phase", "running"), zap.String("player_id", playerID))

	var result error
	polling := true
	select {
	case err := <-client.Errors():
		result = &ControlError{Err: err}
	case err := <-pollDone:
		polling = false
		switch {
		case ctx.Err() != nil:
			result = ctx.Err()
		case err != nil:
			result = fmt.Errorf("%w: %w", ErrPollingExited, err)
		default:
			result = ErrPollingExited
		}
	case <-child.Done():
		result = childExit(child)
	case <-ctx.Done():
		result = ctx.Err()
	}
	cancelPoll()
	if polling {
		<-pollDone
	}
	return result
}

// PlayerServer returns the host part of a control API address. The player
// connects to the server on its own port, so the control port is dropped.
func PlayerServer(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.Index(address, "://"); i >= 0 {
		address = address[i+3:]
		if j := strings.IndexByte(address, '/'); j >= 0 {
			address = address[:j]
		}
	}
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}

func childExit(child Child) error {
	code, ok := child.ExitCode()
	return &ChildExitError{Code: code, HasCode: ok}
}
