// Package config loads settings for the relay server and the bot from an
// optional YAML file, with environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the full settings tree.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Game   GameConfig   `yaml:"game"`
	Bot    BotConfig    `yaml:"bot"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	DBPath          string        `yaml:"db_path"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxChannelAge   time.Duration `yaml:"max_channel_age"`
}

// GameConfig sizes the board and paces a multiplayer match.
type GameConfig struct {
	Cols           int           `yaml:"cols"`
	Rows           int           `yaml:"rows"`
	Lives          int           `yaml:"lives"`
	PieceTimeout   time.Duration `yaml:"piece_timeout"`
	PieceAttempts  int           `yaml:"piece_attempts"`
	ScoresInterval time.Duration `yaml:"scores_interval"`
}

type BotConfig struct {
	URL        string        `yaml:"url"`
	Channel    string        `yaml:"channel"`
	Nick       string        `yaml:"nick"`
	Think      time.Duration `yaml:"think"`
	ScoresFile string        `yaml:"scores_file"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            ":8080",
			DBPath:          "tetrecs.db",
			CleanupInterval: time.Minute,
			MaxChannelAge:   time.Hour,
		},
		Game: GameConfig{
			Cols:           5,
			Rows:           5,
			Lives:          3,
			PieceTimeout:   5 * time.Second,
			PieceAttempts:  3,
			ScoresInterval: 2500 * time.Millisecond,
		},
		Bot: BotConfig{
			URL:        "ws://localhost:8080/ws",
			Channel:    "bots",
			Nick:       "bot",
			Think:      300 * time.Millisecond,
			ScoresFile: "scores.txt",
		},
	}
}

// Load reads path over the defaults and then applies the environment. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if p := GetEnv("PORT", ""); p != "" {
		c.Server.Addr = ":" + p
	}
	c.Server.DBPath = GetEnv("DB_PATH", c.Server.DBPath)
	c.Log.Level = GetEnv("LOG_LEVEL", c.Log.Level)
	c.Bot.URL = GetEnv("TETRECS_URL", c.Bot.URL)
	c.Bot.Channel = GetEnv("TETRECS_CHANNEL", c.Bot.Channel)
	c.Bot.Nick = GetEnv("TETRECS_NICK", c.Bot.Nick)
}

// Validate rejects settings the game cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Game.Cols < 3 || c.Game.Rows < 3 {
		errs = append(errs, fmt.Errorf("board must be at least 3x3, got %dx%d", c.Game.Cols, c.Game.Rows))
	}
	if c.Game.Lives < 1 {
		errs = append(errs, fmt.Errorf("lives must be at least 1, got %d", c.Game.Lives))
	}
	if c.Game.PieceTimeout <= 0 || c.Game.ScoresInterval <= 0 {
		errs = append(errs, errors.New("game timeouts must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logger builds the process logger.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// GetEnv returns the value of the environment variable named by the key,
// or fallback if the variable is not set.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
