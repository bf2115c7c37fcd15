package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roastline/menusync/errors"
)

func TestLogger(t *testing.T) {
	configs := []Config{
		{Level: "debug", Format: "text", Environment: EnvDevelopment, AddSource: true},
		{Level: "info", Format: "json", Environment: EnvProduction, AddSource: false},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			logger := NewLogger(config)

			logger.Debug("Debug message", slog.String("key", "value"))
			logger.Info("Info message", slog.Int("count", 42))
			logger.Warn("Warning message", slog.Bool("enabled", true))

			testErr := errors.NewSubscriptionError(errors.OpSubscribe, "menu_items", fmt.Errorf("channel closed"))
			logger.LogError(context.Background(), testErr, "Operation failed")

			childLogger := logger.WithComponent(Component("test")).WithResource("menu_items")
			childLogger.Info("Child logger message")

			err := logger.LogOperation(
				context.Background(),
				Operation("test_op"),
				Component("test"),
				func() error { return nil },
			)
			require.NoError(t, err)

			err = logger.LogOperation(
				context.Background(),
				Operation("test_op"),
				Component("test"),
				func() error { return fmt.Errorf("boom") },
			)
			assert.Error(t, err)
		})
	}
}

func TestFeedErrorValuer(t *testing.T) {
	feedErr := errors.NewSubscriptionError(errors.OpSubscribe, "menu_items", fmt.Errorf("x"))
	feedErr.Metadata = map[string]interface{}{"retry_count": 2}

	val := FeedErrorValuer{FeedError: feedErr}.LogValue()
	require.Equal(t, slog.KindGroup, val.Kind())

	attrs := map[string]bool{}
	for _, a := range val.Group() {
		attrs[a.Key] = true
	}
	assert.True(t, attrs["operation"])
	assert.True(t, attrs["resource"])
	assert.True(t, attrs["retryable"])
	assert.True(t, attrs["metadata"])
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("ENVIRONMENT", "test")

	config := GetConfigFromEnv()
	assert.Equal(t, "warn", config.Level)
	assert.Equal(t, "text", config.Format)
	assert.Equal(t, EnvTest, config.Environment)
	assert.False(t, config.AddSource)

	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("LOG_FORMAT")
	os.Unsetenv("ENVIRONMENT")
}
