package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load builds a Config from defaults, the optional TOML file at path and the
// environment, in increasing precedence. An empty path skips the file. A
// path that does not exist is an error, since it was asked for explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	// Environment overrides the file for the directory settings.
	env := Config{}
	env.ApplyEnv()
	if env.DailySourceDir != "" {
		cfg.DailySourceDir = env.DailySourceDir
	}
	if env.FullSourceDir != "" {
		cfg.FullSourceDir = env.FullSourceDir
	}
	if env.FullOutputDir != "" {
		cfg.FullOutputDir = env.FullOutputDir
	}
	return cfg, nil
}
