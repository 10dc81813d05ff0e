package lmsbridge

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mikey-austin/lms_bridge/internal/adapters/process"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// Config is the top-level configuration for lmsbridge.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Player  PlayerConfig  `toml:"player"`
	Log     LogFileConfig `toml:"log"`
	Modules ModulesConfig `toml:"modules"`
}

// ServerConfig locates the control server. An empty host enables discovery.
type ServerConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	KeyStyle           string `toml:"key_style"`
	TimeoutMS          int64  `toml:"timeout_ms"`
	DiscoveryTimeoutMS int64  `toml:"discovery_timeout_ms"`
	DiscoveryAttemptMS int64  `toml:"discovery_attempt_ms"`
}

// PlayerConfig describes the managed player process.
type PlayerConfig struct {
	Name             string   `toml:"name"`
	Command          string   `toml:"command"`
	Args             []string `toml:"args"`
	WaitTimeoutS     int64    `toml:"wait_timeout_s"`
	PollIntervalMS   int64    `toml:"poll_interval_ms"`
	TerminateGraceMS int64    `toml:"terminate_grace_ms"`
}

// LogFileConfig is the [log] section.
type LogFileConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
	UTC    bool   `toml:"utc"`
}

// ModulesConfig holds presentation module configurations.
type ModulesConfig struct {
	MPRIS        MPRISConfig        `toml:"mpris"`
	MQTT         MQTTConfig         `toml:"mqtt"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
}

// MPRISConfig configures the D-Bus presentation module.
type MPRISConfig struct {
	Enabled  bool   `toml:"enabled"`
	Identity string `toml:"identity"`
}

// MQTTConfig configures the MQTT presentation module.
type MQTTConfig struct {
	Enabled   bool   `toml:"enabled"`
	Broker    string `toml:"broker"`
	NodeID    string `toml:"node_id"`
	TopicBase string `toml:"topic_base"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	TLSCA     string `toml:"tls_ca"`
	TLSCert   string `toml:"tls_cert"`
	TLSKey    string `toml:"tls_key"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:               lms.DefaultPort,
			KeyStyle:           "auto",
			TimeoutMS:          5000,
			DiscoveryTimeoutMS: 30000,
			DiscoveryAttemptMS: 1000,
		},
		Player: PlayerConfig{
			Command:          "squeezelite",
			Args:             []string{"-n", process.NamePlaceholder, "-s", process.ServerPlaceholder},
			WaitTimeoutS:     10,
			PollIntervalMS:   500,
			TerminateGraceMS: 3000,
		},
		Log: LogFileConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Modules: ModulesConfig{
			MPRIS: MPRISConfig{Enabled: true, Identity: "squeezelite"},
			MQTT:  MQTTConfig{TopicBase: "lms"},
			EmbeddedMQTT: EmbeddedMQTTConfig{
				Listen:         "127.0.0.1:1883",
				AllowAnonymous: true,
			},
		},
	}
}

// LoadConfig loads path over the defaults. A missing file is only an error
// when the path was given explicitly.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "lms_bridge", "lmsbridge.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "lms_bridge", "lmsbridge.toml"), nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Player.Name) == "" {
		return errors.New("player.name is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := lms.ParseKeyStyle(c.Server.KeyStyle); err != nil {
		return fmt.Errorf("server.key_style: %w", err)
	}
	if err := c.ProcessSpec().Validate(); err != nil {
		return fmt.Errorf("player: %w", err)
	}
	if c.Player.WaitTimeoutS <= 0 {
		return errors.New("player.wait_timeout_s must be positive")
	}
	if c.Player.PollIntervalMS <= 0 {
		return errors.New("player.poll_interval_ms must be positive")
	}
	if c.Player.TerminateGraceMS < 0 {
		return errors.New("player.terminate_grace_ms must not be negative")
	}
	if c.Server.DiscoveryTimeoutMS <= 0 {
		return errors.New("server.discovery_timeout_ms must be positive")
	}
	if c.Server.DiscoveryAttemptMS <= 0 {
		return errors.New("server.discovery_attempt_ms must be positive")
	}
	if c.Modules.MQTT.Enabled && c.Modules.MQTT.Broker == "" && !c.Modules.EmbeddedMQTT.Enabled {
		return errors.New("modules.mqtt.broker is required unless embedded_mqtt is enabled")
	}
	return nil
}

// Address returns host:port, or "" when the server must be discovered.
func (c Config) Address() string {
	host := strings.TrimSpace(c.Server.Host)
	if host == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}

// ProcessSpec returns the managed player launch spec.
func (c Config) ProcessSpec() process.Spec {
	return process.Spec{Command: c.Player.Command, Args: c.Player.Args}
}

// Options converts the config into supervisor options.
func (c Config) Options() Options {
	return Options{
		Address:          c.Address(),
		PlayerName:       c.Player.Name,
		WaitTimeout:      time.Duration(c.Player.WaitTimeoutS) * time.Second,
		PollInterval:     time.Duration(c.Player.PollIntervalMS) * time.Millisecond,
		TerminateGrace:   time.Duration(c.Player.TerminateGraceMS) * time.Millisecond,
		DiscoveryTimeout: time.Duration(c.Server.DiscoveryTimeoutMS) * time.Millisecond,
		DiscoveryAttempt: time.Duration(c.Server.DiscoveryAttemptMS) * time.Millisecond,
	}
}
