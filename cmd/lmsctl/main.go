package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey-austin/lms_bridge/internal/adapters/config"
	"github.com/mikey-austin/lms_bridge/internal/adapters/discovery"
	"github.com/mikey-austin/lms_bridge/internal/adapters/lmsclient"
	"github.com/mikey-austin/lms_bridge/internal/adapters/output"
	"github.com/mikey-austin/lms_bridge/internal/core"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

type app struct {
	printer  output.Printer
	timeout  time.Duration
	address  string
	keyStyle lms.KeyStyle
	config   core.Config
	logger   *zap.Logger
	// discoverer finds a server when no address is configured.
	discoverer discovery.Discoverer
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(core.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "lmsctl",
		Short:        "Logitech Media Server control CLI",
		SilenceUsage: true,
	}

	var (
		host     string
		port     int
		keyStyle string
		timeout  time.Duration
		jsonOut  bool
		verbose  bool
	)

	root.PersistentFlags().StringVarP(&host, "host", "H", "", "control server host (discovered when unset)")
	root.PersistentFlags().IntVarP(&port, "port", "P", 0, "control server port")
	root.PersistentFlags().StringVar(&keyStyle, "key-style", "", "result key style (auto|underscore|plain)")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "command timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return core.WrapError(core.ExitUsage, "load config", err)
		}
		if host == "" {
			host = cfg.Host
		}
		if port == 0 {
			port = cfg.Port
		}
		if port == 0 {
			port = lms.DefaultPort
		}
		if keyStyle == "" {
			keyStyle = cfg.KeyStyle
		}
		style, err := lms.ParseKeyStyle(keyStyle)
		if err != nil {
			return core.WrapError(core.ExitUsage, "key style", err)
		}
		if !cmd.Flags().Changed("timeout") && cfg.Timeout != "" {
			parsed, err := time.ParseDuration(cfg.Timeout)
			if err != nil {
				return core.WrapError(core.ExitUsage, "timeout", err)
			}
			timeout = parsed
		}

		logger := zap.NewNop()
		if verbose {
			logger, err = zap.NewDevelopment()
			if err != nil {
				return err
			}
		}

		var printer output.Printer = output.HumanPrinter{Out: cmd.OutOrStdout()}
		if jsonOut {
			printer = output.JSONPrinter{Out: cmd.OutOrStdout()}
		}

		address := ""
		if host != "" {
			address = hostPort(host, port)
		}
		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			printer:  printer,
			timeout:  timeout,
			address:  address,
			keyStyle: style,
			config: core.Config{
				Aliases:  cfg.Aliases,
				Defaults: core.Defaults{Player: cfg.Defaults.Player},
			},
			logger:     logger,
			discoverer: discovery.NewClient(logger.With(zap.String("component", "discovery"))),
		}))
		return nil
	}

	root.AddCommand(discoverCommand())
	root.AddCommand(versionCommand())
	root.AddCommand(playersCommand())
	root.AddCommand(statusCommand())
	for _, cmd := range core.Commands {
		root.AddCommand(playbackCommand(cmd))
	}

	return root
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func hostPort(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// discover finds a control server within the command timeout.
func (a *app) discover(ctx context.Context) (discovery.Reply, error) {
	reply, err := discovery.DiscoverWithin(ctx, a.discoverer, a.timeout, time.Second)
	if err != nil {
		return discovery.Reply{}, core.WrapError(core.ExitUnavailable, "discover control server", err)
	}
	return reply, nil
}

// service builds the control service, discovering the server when no
// address was configured.
func (a *app) service(ctx context.Context) (core.Service, error) {
	address := a.address
	if address == "" {
		reply, err := a.discover(ctx)
		if err != nil {
			return core.Service{}, err
		}
		address = reply.Endpoint()
	}
	client, err := lmsclient.NewClient(lmsclient.Options{
		Address:  address,
		Timeout:  a.timeout,
		KeyStyle: a.keyStyle,
		Logger:   a.logger.With(zap.String("component", "lmsclient")),
	})
	if err != nil {
		return core.Service{}, core.WrapError(core.ExitUsage, "control server address", err)
	}
	// One-shot commands report failures through their return values.
	client.Close()
	return core.Service{
		Client:   client,
		Resolver: core.Resolver{Players: client, Config: a.config},
		Endpoint: client.Endpoint(),
	}, nil
}

func selectorArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return ""
}

func discoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Find a control server on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			reply, err := app.discover(cmd.Context())
			if err != nil {
				return err
			}
			return app.printer.Print(core.DiscoverResult{
				Address:  reply.Addr.String(),
				Hostname: reply.Hostname,
				Port:     reply.Port,
				UUID:     reply.UUID,
				Version:  reply.Version,
			})
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the control server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			service, err := app.service(ctx)
			if err != nil {
				return err
			}
			result, err := service.Server(ctx)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func playersCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "players",
		Aliases: []string{"ls"},
		Short:   "List players",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			service, err := app.service(ctx)
			if err != nil {
				return err
			}
			result, err := service.ListPlayers(ctx)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [player]",
		Short: "Show player status",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			service, err := app.service(ctx)
			if err != nil {
				return err
			}
			result, err := service.Status(ctx, selectorArg(args))
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

var playbackShort = map[core.Command]string{
	core.CommandPlay:     "Start playback",
	core.CommandPause:    "Pause playback",
	core.CommandToggle:   "Toggle between play and pause",
	core.CommandStop:     "Stop playback",
	core.CommandNext:     "Skip to the next track",
	core.CommandPrevious: "Skip to the previous track",
}

func playbackCommand(command core.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s [player]", command),
		Short: playbackShort[command],
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			service, err := app.service(ctx)
			if err != nil {
				return err
			}
			result, err := service.Do(ctx, selectorArg(args), command)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	if command == core.CommandPrevious {
		cmd.Aliases = []string{"previous"}
	}
	return cmd
}
