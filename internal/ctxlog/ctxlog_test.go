package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	t.Run("returns the attached logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		ctx := WithLogger(context.Background(), logger)

		FromContext(ctx).Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("falls back to a discarding logger", func(t *testing.T) {
		assert.NotPanics(t, func() {
			FromContext(context.Background()).Info("dropped")
		})
	})

	t.Run("With adds attributes", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
		ctx = With(ctx, "variant", "debug")

		FromContext(ctx).Info("scan")
		assert.Contains(t, buf.String(), "variant=debug")
	})
}
