package ctxlog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithLogger_FromContext_RoundTrips(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithLogger(context.Background(), logger)

	got := FromContext(ctx)
	assert.Same(t, logger, got)
}

func TestFromContext_PanicsWithoutLogger(t *testing.T) {
	assert.Panics(t, func() {
		FromContext(context.Background())
	})
}

func TestWithLogger_ReplacesPreviousLogger(t *testing.T) {
	first := slog.New(slog.NewTextHandler(io.Discard, nil))
	second := slog.New(slog.NewJSONHandler(io.Discard, nil))

	ctx := WithLogger(context.Background(), first)
	ctx = WithLogger(ctx, second)

	assert.Same(t, second, FromContext(ctx))
}
