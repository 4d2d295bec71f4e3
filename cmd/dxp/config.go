package main

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Zereker/dxp"
	"github.com/pkg/errors"
)

// Config is the TOML configuration shared by every subcommand.
type Config struct {
	// Address is dialed by connect and bound by listen.
	Address     string        `toml:"address"`
	Name        string        `toml:"name"`
	ReadTimeout time.Duration `toml:"read_timeout"`

	Game    GameConfig    `toml:"game"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// GameConfig holds the game request connect sends and how listen answers one.
type GameConfig struct {
	FollowerColor    string `toml:"follower_color"`
	ThinkingTime     int    `toml:"thinking_time"`
	MoveLimit        int    `toml:"move_limit"`
	StartingPosition string `toml:"starting_position"`
	ColorToMoveFirst string `toml:"color_to_move_first"`
	Position         string `toml:"position"`

	AutoAccept     bool `toml:"auto_accept"`
	AcceptanceCode int  `toml:"acceptance_code"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// File enables a rotating JSON log; empty logs to stderr only.
	File       string `toml:"file"`
	MaxSize    int    `toml:"max_size"` // megabytes
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"` // days
	Stderr     bool   `toml:"stderr"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"`
}

func defaultConfig() Config {
	return Config{
		Address: "127.0.0.1",
		Name:    "dxp",
		Game: GameConfig{
			FollowerColor:    "Z",
			ThinkingTime:     dxp.DefaultThinkingTime,
			MoveLimit:        75,
			StartingPosition: "normal",
			AutoAccept:       true,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    64,
			MaxBackups: 2,
			MaxAge:     14,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, errors.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (g GameConfig) params(name string) dxp.GameRequestParams {
	return dxp.GameRequestParams{
		InitiatorName:    name,
		FollowerColor:    g.FollowerColor,
		ThinkingTime:     g.ThinkingTime,
		MoveLimit:        g.MoveLimit,
		StartingPosition: g.StartingPosition,
		ColorToMoveFirst: g.ColorToMoveFirst,
		Position:         g.Position,
	}
}
