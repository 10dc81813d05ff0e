package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds lmsctl configuration from lmsctl.toml.
type Config struct {
	Host     string            `toml:"host"`
	Port     int               `toml:"port"`
	KeyStyle string            `toml:"key_style"`
	Timeout  string            `toml:"timeout"`
	Aliases  map[string]string `toml:"aliases"`
	Defaults Defaults          `toml:"defaults"`
}

// Defaults defines default selector values.
type Defaults struct {
	Player string `toml:"player"`
}

// Load loads lmsctl.toml if present. Missing file returns an empty config.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile loads the config at path. Missing file returns an empty config.
func LoadFile(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{Aliases: map[string]string{}}, nil
		}
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}
	return cfg, nil
}

// Path returns the default config location.
func Path() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "lms_bridge", "lmsctl.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "lms_bridge", "lmsctl.toml"), nil
}
