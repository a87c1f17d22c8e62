package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevels(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		level    string
		expected []string
		excluded []string
	}{
		{
			level:    "error",
			expected: []string{"error"},
			excluded: []string{"warn", "info", "debug"},
		},
		{
			level:    "warn",
			expected: []string{"error", "warn"},
			excluded: []string{"info", "debug"},
		},
		{
			level:    "info",
			expected: []string{"error", "warn", "info"},
			excluded: []string{"debug"},
		},
		{
			level:    "debug",
			expected: []string{"error", "warn", "info", "debug"},
			excluded: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logFile := filepath.Join(tempDir, tt.level+".log")

			log := New(Config{
				Level: tt.level,
				File: FileConfig{
					Path:       logFile,
					MaxSizeMB:  10,
					MaxBackups: 1,
					MaxAgeDays: 1,
				},
			})

			log.Debug("debug message")
			log.Info("info message")
			log.Warn("warn message")
			log.Error("error message")
			_ = log.Sync()

			content, err := os.ReadFile(logFile)
			if err != nil {
				t.Fatalf("failed to read log file: %v", err)
			}
			logContent := string(content)

			for _, exp := range tt.expected {
				if !strings.Contains(logContent, `"level":"`+exp+`"`) {
					t.Errorf("expected level %s in log output", exp)
				}
			}
			for _, exc := range tt.excluded {
				if strings.Contains(logContent, `"level":"`+exc+`"`) {
					t.Errorf("unexpected level %s in log output for %s", exc, tt.level)
				}
			}
		})
	}
}

func TestNewWithoutDestinations(t *testing.T) {
	log := New(Config{Level: "info"})
	// Must be a usable no-op logger, not nil.
	log.Info("ignored")
	if log.Core().Enabled(0) {
		t.Error("expected a no-op core with no destinations configured")
	}
}

func TestDefaultFile(t *testing.T) {
	cfg := DefaultFile("/tmp/engine.log")

	if cfg.Path != "/tmp/engine.log" {
		t.Errorf("expected path /tmp/engine.log, got %s", cfg.Path)
	}
	if cfg.MaxSizeMB != 20 {
		t.Errorf("expected MaxSizeMB 20, got %d", cfg.MaxSizeMB)
	}
	if cfg.MaxBackups != 3 {
		t.Errorf("expected MaxBackups 3, got %d", cfg.MaxBackups)
	}
	if !cfg.Compress {
		t.Error("expected Compress to be true")
	}
}
