package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey-austin/lms_bridge/internal/adapters/discovery"
	"github.com/mikey-austin/lms_bridge/internal/adapters/idgen"
	"github.com/mikey-austin/lms_bridge/internal/adapters/lmsclient"
	"github.com/mikey-austin/lms_bridge/internal/adapters/mqttserver"
	"github.com/mikey-austin/lms_bridge/internal/adapters/process"
	"github.com/mikey-austin/lms_bridge/internal/lmsbridge"
	bridgemqtt "github.com/mikey-austin/lms_bridge/internal/modules/bridge_mqtt"
	embeddedmqtt "github.com/mikey-austin/lms_bridge/internal/modules/embedded_mqtt"
	"github.com/mikey-austin/lms_bridge/internal/modules/mpris"
	"github.com/mikey-austin/lms_bridge/pkg/bridge"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// overrides holds command line values that take precedence over the file.
type overrides struct {
	host       string
	port       int
	playerName string
	keyStyle   string
	logLevel   string
	logFormat  string
	noMPRIS    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		opts        overrides
		printConfig bool
		dryRun      bool
	)

	root := &cobra.Command{
		Use:           "lmsbridge",
		Short:         "Run a squeezelite player and bridge it to desktop and MQTT controls",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("config")
			if !explicit {
				path, err := lmsbridge.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			cfg, err := lmsbridge.LoadConfig(configPath, explicit)
			if err != nil {
				return err
			}
			applyOverrides(&cfg, opts)

			if printConfig {
				return printResolvedConfig(cmd.OutOrStdout(), cfg)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if dryRun {
				return nil
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "config file path")
	root.Flags().StringVarP(&opts.host, "host", "H", "", "control server host (skips discovery)")
	root.Flags().IntVarP(&opts.port, "port", "P", 0, "control server port")
	root.Flags().StringVarP(&opts.playerName, "player-name", "p", "", "player name")
	root.Flags().StringVar(&opts.keyStyle, "key-style", "", "result key style (auto|underscore|plain)")
	root.Flags().StringVar(&opts.logLevel, "log-level", "", "log level override")
	root.Flags().StringVar(&opts.logFormat, "log-format", "", "log format override (console|json)")
	root.Flags().BoolVar(&opts.noMPRIS, "no-mpris", false, "disable the MPRIS presentation")
	root.Flags().BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	root.Flags().BoolVar(&dryRun, "dry-run", false, "validate config and exit")

	return root
}

func applyOverrides(cfg *lmsbridge.Config, opts overrides) {
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.playerName != "" {
		cfg.Player.Name = opts.playerName
	}
	if opts.keyStyle != "" {
		cfg.Server.KeyStyle = opts.keyStyle
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.noMPRIS {
		cfg.Modules.MPRIS.Enabled = false
	}
	if cfg.Modules.MQTT.TopicBase == "" {
		cfg.Modules.MQTT.TopicBase = bridge.BaseTopic
	}
	if cfg.Modules.MQTT.NodeID == "" && cfg.Player.Name != "" {
		cfg.Modules.MQTT.NodeID = bridge.NodeID(cfg.Player.Name)
	}
	if cfg.Modules.MQTT.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Modules.MQTT.Broker = embeddedBrokerURL(cfg.Modules.EmbeddedMQTT)
	}
}

func printResolvedConfig(w io.Writer, cfg lmsbridge.Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

func run(ctx context.Context, cfg lmsbridge.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := lmsbridge.NewLogger(lmsbridge.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		UTC:    cfg.Log.UTC,
	})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keyStyle, err := lms.ParseKeyStyle(cfg.Server.KeyStyle)
	if err != nil {
		return err
	}
	logger.Info("lmsbridge starting",
		zap.String("player", cfg.Player.Name),
		zap.String("server", cfg.Address()),
		zap.Stringer("key_style", keyStyle),
		zap.Strings("modules", enabledModules(cfg)),
	)

	presenters, cleanup, err := buildPresenters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	supervisor := lmsbridge.Supervisor{
		Log:        logger.With(zap.String("component", "supervisor")),
		Options:    cfg.Options(),
		Discoverer: discovery.NewClient(logger.With(zap.String("component", "discovery"))),
		Dial: func(address string) (lmsbridge.Client, error) {
			client, err := lmsclient.NewClient(lmsclient.Options{
				Address:  address,
				Timeout:  time.Duration(cfg.Server.TimeoutMS) * time.Millisecond,
				KeyStyle: keyStyle,
				Logger:   logger.With(zap.String("component", "lmsclient")),
			})
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		Launch: func(name, server string) (lmsbridge.Child, error) {
			proc, err := process.Start(logger.With(zap.String("component", "player")), cfg.ProcessSpec(), name, server)
			if err != nil {
				return nil, err
			}
			return proc, nil
		},
		Presenters: presenters,
	}
	err = supervisor.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("lmsbridge stopped")
	} else {
		logger.Error("lmsbridge exiting", zap.Error(err))
	}
	return err
}

// buildPresenters creates the enabled presentation modules. cleanup releases
// the MQTT connection and embedded broker.
func buildPresenters(ctx context.Context, cfg lmsbridge.Config, logger *zap.Logger) ([]lmsbridge.Presenter, func(), error) {
	presenters := []lmsbridge.Presenter{}
	closers := []func(){}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Modules.MPRIS.Enabled {
		presenters = append(presenters, mpris.NewModule(logger.With(zap.String("module", "mpris")), mpris.Config{
			Identity: cfg.Modules.MPRIS.Identity,
		}))
	}

	if cfg.Modules.MQTT.Enabled {
		if cfg.Modules.EmbeddedMQTT.Enabled && cfg.Modules.MQTT.Broker == embeddedBrokerURL(cfg.Modules.EmbeddedMQTT) {
			broker, err := startEmbeddedBroker(ctx, cfg, logger)
			if err != nil {
				return nil, cleanup, fmt.Errorf("embedded mqtt: %w", err)
			}
			closers = append(closers, broker.Close)
		}

		willTopic, willPayload := bridgemqtt.PresenceWill(cfg.Modules.MQTT.TopicBase, cfg.Modules.MQTT.NodeID)
		client, err := mqttserver.NewClient(mqttserver.Options{
			BrokerURL: cfg.Modules.MQTT.Broker,
			ClientID:  idgen.ClientID(cfg.Modules.MQTT.NodeID),
			Username:  cfg.Modules.MQTT.Username,
			Password:  cfg.Modules.MQTT.Password,
			TLS:       mqttTLS(cfg.Modules.MQTT),
			Timeout:   2 * time.Second,
			Logger:    logger.With(zap.String("component", "mqtt")),
			Debug:     cfg.Log.Level == "debug",
			Will:      &mqttserver.Will{Topic: willTopic, Payload: willPayload},
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("mqtt connection failed: %w", err)
		}
		closers = append(closers, func() { client.Close(250 * time.Millisecond) })

		mod, err := bridgemqtt.NewModule(logger.With(zap.String("module", "bridge_mqtt")), client, bridgemqtt.Config{
			NodeID:    cfg.Modules.MQTT.NodeID,
			TopicBase: cfg.Modules.MQTT.TopicBase,
			Name:      cfg.Player.Name,
		})
		if err != nil {
			return nil, cleanup, err
		}
		client.OnRestore(func() {
			if err := mod.Republish(ctx); err != nil {
				logger.Warn("mqtt republish", zap.Error(err))
			}
		})
		presenters = append(presenters, mod)
	}

	return presenters, cleanup, nil
}

func startEmbeddedBroker(ctx context.Context, cfg lmsbridge.Config, logger *zap.Logger) (*embeddedmqtt.Module, error) {
	broker, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := broker.Start(ctx); err != nil {
		return nil, err
	}
	return broker, nil
}

func embeddedConfig(cfg lmsbridge.Config) embeddedmqtt.Config {
	e := cfg.Modules.EmbeddedMQTT
	return embeddedmqtt.Config{
		Listen:         e.Listen,
		AllowAnonymous: e.AllowAnonymous,
		Username:       e.Username,
		Password:       e.Password,
		TLS:            embeddedTLS(e),
		TopicBase:      cfg.Modules.MQTT.TopicBase,
	}
}

func embeddedBrokerURL(cfg lmsbridge.EmbeddedMQTTConfig) string {
	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:1883"
	}
	return embeddedmqtt.BrokerURL(listen, embeddedTLS(cfg).Enabled())
}

func mqttTLS(cfg lmsbridge.MQTTConfig) mqttserver.TLSFiles {
	return mqttserver.TLSFiles{CA: cfg.TLSCA, Cert: cfg.TLSCert, Key: cfg.TLSKey}
}

func embeddedTLS(cfg lmsbridge.EmbeddedMQTTConfig) mqttserver.TLSFiles {
	return mqttserver.TLSFiles{CA: cfg.TLSCA, Cert: cfg.TLSCert, Key: cfg.TLSKey}
}

func enabledModules(cfg lmsbridge.Config) []string {
	out := []string{}
	if cfg.Modules.MPRIS.Enabled {
		out = append(out, "mpris")
	}
	if cfg.Modules.MQTT.Enabled {
		out = append(out, "bridge_mqtt")
	}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	return out
}

// exitCode maps the bridge's terminal cause to a process exit status. A
// player that exited with a status passes it through; a signal stop is
// clean.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	var childErr *lmsbridge.ChildExitError
	if errors.As(err, &childErr) && childErr.HasCode && childErr.Code != 0 {
		return childErr.Code
	}
	return 1
}
