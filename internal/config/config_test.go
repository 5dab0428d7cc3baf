// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Engine.AnswerGrace().Milliseconds() != 250 {
		t.Errorf("answer grace default: %v", cfg.Engine.AnswerGrace())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.Listen)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quizd.yaml")
	data := `
listen: ":9999"
logLevel: debug
redis:
  addr: "redis:6379"
engine:
  answerGraceMs: 100
  leaderboardTopN: 10
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("QUIZD_LISTEN", ":7777")
	t.Setenv("QUIZD_LEADERBOARD_TOP_N", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":7777" {
		t.Errorf("env must win over file: %q", cfg.Listen)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("file value lost: %q", cfg.Redis.Addr)
	}
	if cfg.Engine.AnswerGraceMs != 100 || cfg.Engine.LeaderboardTopN != 5 {
		t.Errorf("override mix: %+v", cfg.Engine)
	}
}

func TestEnvParseErrorFallsBack(t *testing.T) {
	t.Setenv("QUIZD_LEADERBOARD_TOP_N", "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.LeaderboardTopN != 20 {
		t.Errorf("fallback lost: %d", cfg.Engine.LeaderboardTopN)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"empty redis", func(c *Config) { c.Redis.Addr = "" }, "redis"},
		{"grace too long", func(c *Config) { c.Engine.AnswerGraceMs = 500 }, "answerGraceMs"},
		{"negative grace", func(c *Config) { c.Engine.AnswerGraceMs = -1 }, "answerGraceMs"},
		{"zero topN", func(c *Config) { c.Engine.LeaderboardTopN = 0 }, "leaderboardTopN"},
		{"tiny frame cap", func(c *Config) { c.Engine.MaxMessageBytes = 100 }, "maxMessageBytes"},
		{"zero join limit", func(c *Config) { c.Limits.JoinPerMinute = 0 }, "rate limits"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [:::"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml must fail")
	}
}
