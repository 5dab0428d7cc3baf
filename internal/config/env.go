// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"

	xglog "github.com/quizwire/quizwire/internal/log"
)

// applyEnv overlays QUIZD_* environment variables onto cfg. Environment
// always wins over the file.
func applyEnv(cfg *Config) {
	cfg.Listen = envString("QUIZD_LISTEN", cfg.Listen)
	cfg.LogLevel = envString("QUIZD_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = envString("QUIZD_DATA_DIR", cfg.DataDir)

	cfg.Redis.Addr = envString("QUIZD_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("QUIZD_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("QUIZD_REDIS_DB", cfg.Redis.DB)

	cfg.Profanity.WordlistPath = envString("QUIZD_PROFANITY_WORDLIST", cfg.Profanity.WordlistPath)

	cfg.Engine.AnswerGraceMs = envInt("QUIZD_ANSWER_GRACE_MS", cfg.Engine.AnswerGraceMs)
	cfg.Engine.RecoveryGraceSeconds = envInt("QUIZD_RECOVERY_GRACE_SECONDS", cfg.Engine.RecoveryGraceSeconds)
	cfg.Engine.SessionTTLHours = envInt("QUIZD_SESSION_TTL_HOURS", cfg.Engine.SessionTTLHours)
	cfg.Engine.ParticipantTTLSeconds = envInt("QUIZD_PARTICIPANT_TTL_SECONDS", cfg.Engine.ParticipantTTLSeconds)
	cfg.Engine.LeaderboardTopN = envInt("QUIZD_LEADERBOARD_TOP_N", cfg.Engine.LeaderboardTopN)
	cfg.Engine.LeaderboardIntervalMs = envInt("QUIZD_LEADERBOARD_INTERVAL_MS", cfg.Engine.LeaderboardIntervalMs)
	cfg.Engine.MaxMessageBytes = envInt64("QUIZD_MAX_MESSAGE_BYTES", cfg.Engine.MaxMessageBytes)

	cfg.Limits.JoinPerMinute = envInt64("QUIZD_JOIN_PER_MINUTE", cfg.Limits.JoinPerMinute)
	cfg.Limits.MessagesPerSec = envInt64("QUIZD_MESSAGES_PER_SECOND", cfg.Limits.MessagesPerSec)
	cfg.Limits.AnswerWindowSecs = envInt64("QUIZD_ANSWER_WINDOW_SECONDS", cfg.Limits.AnswerWindowSecs)
}

// envString reads a string override. Sensitive keys are logged without their
// value.
func envString(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	logger := xglog.WithComponent("config")
	lower := strings.ToLower(key)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") {
		logger.Debug().Str("key", key).Bool("sensitive", true).Msg("using environment override")
	} else {
		logger.Debug().Str("key", key).Str("value", v).Msg("using environment override")
	}
	return v
}

// envInt reads an integer override, falling back on parse errors.
func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	logger := xglog.WithComponent("config")
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().
			Str("key", key).Str("value", v).
			Msg("invalid integer in environment, using default")
		return fallback
	}
	logger.Debug().Str("key", key).Int("value", i).Msg("using environment override")
	return i
}

func envInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	logger := xglog.WithComponent("config")
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Warn().
			Str("key", key).Str("value", v).
			Msg("invalid integer in environment, using default")
		return fallback
	}
	return i
}
