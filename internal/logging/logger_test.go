package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"bad format", &Config{Level: "info", Format: "xml"}},
		{"bad level", &Config{Level: "loud", Format: "json"}},
		{"empty field value", &Config{Level: "info", Format: "json", Fields: map[string]string{"k": ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogger(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithSessionID(ctx, "sess-1")

	tl.Info(ctx, "workflow started", zap.String("mode", "tutor"))

	tl.AssertLogged(t, zapcore.InfoLevel, "workflow started")
	tl.AssertField(t, "workflow started", "request.id", "req-1")
	tl.AssertField(t, "workflow started", "user.id", "user-1")
	tl.AssertField(t, "workflow started", "session.id", "sess-1")
	tl.AssertField(t, "workflow started", "mode", "tutor")
}

func TestContext_EmptyIDsIgnored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	ctx = WithSessionID(ctx, "")

	assert.Empty(t, ContextFields(ctx))
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestLogger_NamedAndWith(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("workflow").With(zap.String("component", "loop"))

	child.Warn(context.Background(), "circuit breaker tripped")

	entries := tl.FilterMessage("circuit breaker").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "workflow", entries[0].LoggerName)
	tl.AssertField(t, "circuit breaker", "component", "loop")
}
