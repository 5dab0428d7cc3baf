// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithComponent(t *testing.T) {
	var sb strings.Builder
	l := zerolog.New(&sb)
	child := l.With().Str("component", "timer").Logger()
	child.Info().Msg("tick")

	if !strings.Contains(sb.String(), `"component":"timer"`) {
		t.Errorf("expected component field, got %s", sb.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "s-1")
	ctx = ContextWithCorrelationID(ctx, "c-1")

	if got := SessionIDFromContext(ctx); got != "s-1" {
		t.Errorf("session id: got %q", got)
	}
	if got := CorrelationIDFromContext(ctx); got != "c-1" {
		t.Errorf("correlation id: got %q", got)
	}
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("request id should be empty, got %q", got)
	}
}

func TestWithContextEnrichment(t *testing.T) {
	var sb strings.Builder
	l := zerolog.New(&sb)

	ctx := ContextWithSessionID(context.Background(), "s-42")
	enriched := WithContext(ctx, l)
	enriched.Info().Msg("handled")

	out := sb.String()
	if !strings.Contains(out, `"session_id":"s-42"`) {
		t.Errorf("expected session_id field, got %s", out)
	}
}

func TestWithContextNil(t *testing.T) {
	var sb strings.Builder
	l := zerolog.New(&sb)
	nilCtxLogger := WithContext(nil, l) //nolint:staticcheck
	nilCtxLogger.Info().Msg("ok")
	if !strings.Contains(sb.String(), "ok") {
		t.Errorf("logger should still work with nil context")
	}
}
