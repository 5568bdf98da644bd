package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogger(level logrus.Level) *bytes.Buffer {
	var buf bytes.Buffer
	Logger = logrus.New()
	Logger.SetOutput(&buf)
	Logger.SetLevel(level)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &buf
}

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"ERROR", logrus.ErrorLevel},
		{"unknown", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Logger = logrus.New()
			if err := Init(tt.level, ""); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if Logger.GetLevel() != tt.want {
				t.Errorf("expected level %v, got %v", tt.want, Logger.GetLevel())
			}
		})
	}
}

func TestInit_WithNestedLogFile(t *testing.T) {
	Logger = logrus.New()
	logFile := filepath.Join(t.TempDir(), "logs", "nested", "facewatch.log")

	if err := Init("info", logFile); err != nil {
		t.Fatalf("Init with log file failed: %v", err)
	}

	Info("written to file")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Error("message not mirrored into log file")
	}
}

func TestSetFormat(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	if err := SetFormat("json"); err != nil {
		t.Fatalf("SetFormat(json) failed: %v", err)
	}
	Info("json message")
	if !strings.Contains(buf.String(), `"msg":"json message"`) {
		t.Errorf("expected json output, got %q", buf.String())
	}

	if err := SetFormat("text"); err != nil {
		t.Fatalf("SetFormat(text) failed: %v", err)
	}
	if err := SetFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLoggingFunctions(t *testing.T) {
	buf := captureLogger(logrus.DebugLevel)

	tests := []struct {
		name string
		log  func()
		want string
	}{
		{"Debug", func() { Debug("debug message") }, "debug message"},
		{"Debugf", func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{"Info", func() { Info("info message") }, "info message"},
		{"Infof", func() { Infof("info %d", 42) }, "info 42"},
		{"Warn", func() { Warn("warn message") }, "warn message"},
		{"Warnf", func() { Warnf("warn %s", "test") }, "warn test"},
		{"Error", func() { Error("error message") }, "error message"},
		{"Errorf", func() { Errorf("error %s", "occurred") }, "error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("%s did not log %q", tt.name, tt.want)
			}
		})
	}
}

func TestEntries(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	WithFields(Fields{"frame": 12, "faces": 2}).Info("frame processed")
	out := buf.String()
	if !strings.Contains(out, "frame=12") || !strings.Contains(out, "faces=2") {
		t.Errorf("fields missing from output: %q", out)
	}

	buf.Reset()
	WithField("source", "rtsp://cam").Info("opened")
	if !strings.Contains(buf.String(), "source=\"rtsp://cam\"") {
		t.Errorf("field missing from output: %q", buf.String())
	}

	buf.Reset()
	Component("pipeline").Info("started")
	if !strings.Contains(buf.String(), "component=pipeline") {
		t.Errorf("component missing from output: %q", buf.String())
	}

	buf.Reset()
	WithError(os.ErrNotExist).Error("load failed")
	if !strings.Contains(buf.String(), "file does not exist") {
		t.Errorf("error missing from output: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLogger(logrus.ErrorLevel)

	Debug("debug")
	Info("info")
	Warn("warn")
	if buf.Len() > 0 {
		t.Errorf("expected nothing below error level, got %q", buf.String())
	}
	if IsDebug() {
		t.Error("IsDebug should be false at error level")
	}

	Error("error")
	if buf.Len() == 0 {
		t.Error("Error should be logged at error level")
	}
}

func BenchmarkWithFields(b *testing.B) {
	Logger = logrus.New()
	Logger.SetOutput(&bytes.Buffer{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		WithFields(Fields{"frame": i, "label": "alice"}).Info("match")
	}
}
