package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultLogConfig()},
		{name: "debug console stderr", cfg: LogConfig{Level: "debug", Format: "console", Output: "stderr"}},
		{name: "warn json", cfg: LogConfig{Level: "warn", Format: "json", Output: "stdout"}},
		{name: "invalid level", cfg: LogConfig{Level: "verbose"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			logger.Info("ready")
		})
	}
}

func TestLoggerWithAttachesFields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	logger := Logger(&zapLogger{logger: zap.New(core)})

	logger.With(String("component", "server")).Info("started", Int("port", 8080))

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "started", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "server", fields["component"])
	assert.Equal(t, int64(8080), fields["port"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	core, recorded := observer.New(zapcore.WarnLevel)
	logger := Logger(&zapLogger{logger: zap.New(core)})

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")

	assert.Equal(t, 2, recorded.Len())
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()

	logger.Debug("msg")
	logger.Info("msg", String("k", "v"))
	logger.Warn("msg")
	logger.Error("msg")
	assert.Same(t, logger, logger.With(String("k", "v")))
	assert.NoError(t, logger.Sync())
}

func TestZapUnwrap(t *testing.T) {
	logger, err := NewLogger(DefaultLogConfig())
	require.NoError(t, err)
	assert.NotNil(t, Zap(logger))

	assert.NotNil(t, Zap(NopLogger()), "non-zap loggers get a nop zap logger")
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}
