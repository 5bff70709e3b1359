package ops

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ventapp/ventfeed/internal/config"
)

var errTest = errors.New("test failure")

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *config.Logging
	}{
		{
			name: "text format",
			config: &config.Logging{
				Level:  "info",
				Format: "text",
			},
		},
		{
			name: "json format",
			config: &config.Logging{
				Level:  "debug",
				Format: "json",
			},
		},
		{
			name: "warn level",
			config: &config.Logging{
				Level:  "warn",
				Format: "text",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("expected logger to be created")
			}

			if logger.format != tt.config.Format {
				t.Errorf("expected format %s, got %s", tt.config.Format, logger.format)
			}
		})
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Logging{
		Level:  "info",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	componentLogger := logger.WithComponent("test-component")

	componentLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected log output to contain 'test message', got: %s", output)
	}

	if !strings.Contains(output, "component") {
		t.Errorf("expected log output to contain 'component', got: %s", output)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, &buf)

	logger.Info("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("info message leaked through error level: %s", buf.String())
	}

	logger.Error("should pass")
	if !strings.Contains(buf.String(), "should pass") {
		t.Errorf("error message missing from output: %s", buf.String())
	}
}

func TestIsDebugEnabled(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected bool
	}{
		{"debug level", "debug", true},
		{"info level", "info", false},
		{"warn level", "warn", false},
		{"error level", "error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(&config.Logging{
				Level:  tt.level,
				Format: "text",
			})

			if logger.IsDebugEnabled() != tt.expected {
				t.Errorf("expected IsDebugEnabled to be %v, got %v", tt.expected, logger.IsDebugEnabled())
			}
		})
	}
}

func TestLogSubscriptionLevels(t *testing.T) {
	var buf bytes.Buffer
	// Warn level: healthy state transitions stay quiet, errors surface.
	logger := NewLoggerWithWriter(&config.Logging{Level: "warn", Format: "text"}, &buf)

	logger.LogSubscription("likes:p1", "open", nil)
	if buf.Len() != 0 {
		t.Errorf("healthy subscription state logged above debug: %s", buf.String())
	}

	logger.LogSubscription("likes:p1", "down", errTest)
	output := buf.String()
	if !strings.Contains(output, "likes:p1") || !strings.Contains(output, "down") {
		t.Errorf("subscription error missing source or state: %s", output)
	}
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Logging{
		Level:  "debug",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)

	logger.LogSubscription("posts", "open", nil)
	logger.LogMutation("like", "p1", false, nil)
	logger.LogMutation("like", "p1", true, errTest)
	logger.LogBackendOperation("query", "posts", 5*time.Millisecond, nil)
	logger.LogBackendOperation("write", "likes", 5*time.Millisecond, errTest)

	output := buf.String()
	for _, want := range []string{"subscription state", "mutation confirmed", "mutation failed", "backend operation completed", "backend operation failed"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected log output to contain %q, got: %s", want, output)
		}
	}
}
