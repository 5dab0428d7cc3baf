// SPDX-License-Identifier: MIT

// Package config loads the quizd configuration: YAML file first, QUIZD_*
// environment variables on top. Every value has a production default, so an
// empty config is valid.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full quizd configuration tree.
type Config struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"logLevel"`
	Redis     RedisConfig     `yaml:"redis"`
	DataDir   string          `yaml:"dataDir"`
	Profanity ProfanityConfig `yaml:"profanity"`
	Engine    EngineConfig    `yaml:"engine"`
	Limits    LimitsConfig    `yaml:"limits"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ProfanityConfig struct {
	WordlistPath string `yaml:"wordlistPath"` // empty: builtin list only
}

type EngineConfig struct {
	AnswerGraceMs         int   `yaml:"answerGraceMs"`
	RecoveryGraceSeconds  int   `yaml:"recoveryGraceSeconds"`
	SessionTTLHours       int   `yaml:"sessionTtlHours"`
	ParticipantTTLSeconds int   `yaml:"participantTtlSeconds"`
	LeaderboardTopN       int   `yaml:"leaderboardTopN"`
	LeaderboardIntervalMs int   `yaml:"leaderboardIntervalMs"`
	MaxMessageBytes       int64 `yaml:"maxMessageBytes"`
}

type LimitsConfig struct {
	JoinPerMinute    int64 `yaml:"joinPerMinute"`
	MessagesPerSec   int64 `yaml:"messagesPerSecond"`
	AnswerWindowSecs int64 `yaml:"answerWindowSeconds"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Listen:   ":8080",
		LogLevel: "info",
		Redis:    RedisConfig{Addr: "localhost:6379"},
		DataDir:  "./data",
		Engine: EngineConfig{
			AnswerGraceMs:         250,
			RecoveryGraceSeconds:  300,
			SessionTTLHours:       8,
			ParticipantTTLSeconds: 300,
			LeaderboardTopN:       20,
			LeaderboardIntervalMs: 250,
			MaxMessageBytes:       4096,
		},
		Limits: LimitsConfig{
			JoinPerMinute:    5,
			MessagesPerSec:   10,
			AnswerWindowSecs: 300,
		},
	}
}

// Load reads the YAML file at path (optional) and applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults + env only
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data directory is required")
	}
	if c.Engine.AnswerGraceMs < 0 || c.Engine.AnswerGraceMs > 250 {
		return fmt.Errorf("config: answerGraceMs must be within [0, 250], got %d", c.Engine.AnswerGraceMs)
	}
	if c.Engine.LeaderboardTopN <= 0 {
		return fmt.Errorf("config: leaderboardTopN must be positive")
	}
	if c.Engine.MaxMessageBytes < 512 {
		return fmt.Errorf("config: maxMessageBytes must be at least 512")
	}
	if c.Limits.JoinPerMinute <= 0 || c.Limits.MessagesPerSec <= 0 || c.Limits.AnswerWindowSecs <= 0 {
		return fmt.Errorf("config: rate limits must be positive")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

func (c *EngineConfig) AnswerGrace() time.Duration {
	return time.Duration(c.AnswerGraceMs) * time.Millisecond
}

func (c *EngineConfig) RecoveryGrace() time.Duration {
	return time.Duration(c.RecoveryGraceSeconds) * time.Second
}

func (c *EngineConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *EngineConfig) ParticipantTTL() time.Duration {
	return time.Duration(c.ParticipantTTLSeconds) * time.Second
}

func (c *EngineConfig) LeaderboardInterval() time.Duration {
	return time.Duration(c.LeaderboardIntervalMs) * time.Millisecond
}
