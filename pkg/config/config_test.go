package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Models.Backend != BackendOpenCV {
		t.Errorf("expected backend %s, got %s", BackendOpenCV, cfg.Models.Backend)
	}
	if cfg.Detection.ScoreThreshold != 0.7 {
		t.Errorf("expected detection threshold 0.7, got %f", cfg.Detection.ScoreThreshold)
	}
	if cfg.Detection.Margin != 10 {
		t.Errorf("expected margin 10, got %d", cfg.Detection.Margin)
	}
	if cfg.Recognition.Threshold != 0.5 {
		t.Errorf("expected recognition threshold 0.5, got %f", cfg.Recognition.Threshold)
	}
	if cfg.Recognition.CropSize != 128 {
		t.Errorf("expected crop size 128, got %d", cfg.Recognition.CropSize)
	}
	if cfg.Stream.FallbackFPS != 25 {
		t.Errorf("expected fallback fps 25, got %f", cfg.Stream.FallbackFPS)
	}
	if cfg.Stream.FourCC != "mp4v" {
		t.Errorf("expected fourcc mp4v, got %s", cfg.Stream.FourCC)
	}
	if cfg.Output.RecognizedColor != (Color{0, 255, 0}) {
		t.Errorf("unexpected recognized color %v", cfg.Output.RecognizedColor)
	}
	if cfg.Storage.EncryptCache {
		t.Error("expected cache encryption to be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	configContent := `
models:
  backend: dlib
recognition:
  threshold: 0.42
stream:
  reconnect_attempts: 3
  reconnect_backoff: 500ms
output:
  unrecognized_color: [0, 100, 255]
logging:
  level: debug
`
	configPath := filepath.Join(t.TempDir(), "facewatch.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Models.Backend != BackendDlib {
		t.Errorf("expected backend dlib, got %s", cfg.Models.Backend)
	}
	if cfg.Recognition.Threshold != 0.42 {
		t.Errorf("expected threshold 0.42, got %f", cfg.Recognition.Threshold)
	}
	if cfg.Stream.ReconnectAttempts != 3 {
		t.Errorf("expected 3 reconnect attempts, got %d", cfg.Stream.ReconnectAttempts)
	}
	if cfg.Stream.ReconnectBackoff != 500*time.Millisecond {
		t.Errorf("expected 500ms backoff, got %s", cfg.Stream.ReconnectBackoff)
	}
	if cfg.Output.UnrecognizedColor != (Color{0, 100, 255}) {
		t.Errorf("unexpected unrecognized color %v", cfg.Output.UnrecognizedColor)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}

	// Unset values keep their defaults.
	if cfg.Detection.TopK != 5000 {
		t.Errorf("expected default top_k 5000, got %d", cfg.Detection.TopK)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/facewatch.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
	if cfg == nil {
		t.Fatal("expected default config to be returned")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(configPath, []byte("recognition: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FACEWATCH_RECOGNITION_THRESHOLD", "0.65")
	t.Setenv("FACEWATCH_STREAM_RECONNECT_BACKOFF", "3s")
	t.Setenv("FACEWATCH_STORAGE_ENCRYPT_CACHE", "true")
	t.Setenv("FACEWATCH_MODELS_BACKEND", "dlib")

	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Recognition.Threshold != 0.65 {
		t.Errorf("expected threshold 0.65, got %f", cfg.Recognition.Threshold)
	}
	if cfg.Stream.ReconnectBackoff != 3*time.Second {
		t.Errorf("expected 3s backoff, got %s", cfg.Stream.ReconnectBackoff)
	}
	if !cfg.Storage.EncryptCache {
		t.Error("expected cache encryption from env")
	}
	if cfg.Models.Backend != BackendDlib {
		t.Errorf("expected backend dlib, got %s", cfg.Models.Backend)
	}
	if cfg.Stream.FourCC != "mp4v" {
		t.Errorf("unset variable changed fourcc to %q", cfg.Stream.FourCC)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("FACEWATCH_STREAM_RECONNECT_ATTEMPTS", "many")

	if err := ApplyEnv(DefaultConfig()); err == nil {
		t.Error("expected error for non-numeric override")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Models.Backend = "tensorrt" }, "invalid backend"},
		{"score threshold above one", func(c *Config) { c.Detection.ScoreThreshold = 1.5 }, "score_threshold"},
		{"negative nms", func(c *Config) { c.Detection.NMSThreshold = -0.1 }, "nms_threshold"},
		{"zero top k", func(c *Config) { c.Detection.TopK = 0 }, "top_k"},
		{"zero input size", func(c *Config) { c.Detection.InputWidth = 0 }, "input size"},
		{"negative margin", func(c *Config) { c.Detection.Margin = -1 }, "margin"},
		{"negative cosine threshold allowed", func(c *Config) { c.Recognition.Threshold = -0.2 }, ""},
		{"threshold below minus one", func(c *Config) { c.Recognition.Threshold = -1.5 }, "recognition.threshold"},
		{"zero embedding dim", func(c *Config) { c.Recognition.EmbeddingDim = 0 }, "embedding_dim"},
		{"missing gallery", func(c *Config) { c.Storage.Gallery = "" }, "storage.gallery"},
		{"negative attempts", func(c *Config) { c.Stream.ReconnectAttempts = -1 }, "reconnect_attempts"},
		{"zero attempts allowed", func(c *Config) { c.Stream.ReconnectAttempts = 0 }, ""},
		{"zero backoff", func(c *Config) { c.Stream.ReconnectBackoff = 0 }, "reconnect_backoff"},
		{"zero fps", func(c *Config) { c.Stream.FallbackFPS = 0 }, "fallback_fps"},
		{"bad fourcc", func(c *Config) { c.Stream.FourCC = "h264x" }, "fourcc"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("FACEWATCH_TEST_DIR", "/srv/faces")

	tests := []struct {
		input    string
		expected string
	}{
		{"~/models", filepath.Join(homeDir, "models")},
		{"/absolute/path", "/absolute/path"},
		{"$FACEWATCH_TEST_DIR/db.json", "/srv/faces/db.json"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ExpandPath(tt.input); got != tt.expected {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolvedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models.Dir = "/opt/models"
	cfg.Storage.DataDir = "/var/lib/facewatch"

	if got := cfg.DetectorPath(); got != "/opt/models/face_detection_yunet_2023mar.onnx" {
		t.Errorf("DetectorPath() = %s", got)
	}
	if got := cfg.GalleryPath(); got != "/var/lib/facewatch/database.json" {
		t.Errorf("GalleryPath() = %s", got)
	}

	cfg.Models.Recognizer = "/elsewhere/arcface.onnx"
	if got := cfg.RecognizerPath(); got != "/elsewhere/arcface.onnx" {
		t.Errorf("absolute recognizer path rewritten: %s", got)
	}

	cfg.Storage.Cache = "./bank.gob"
	if got := cfg.CachePath(); got != "./bank.gob" {
		t.Errorf("explicit relative cache path rewritten: %s", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Models.Dir = filepath.Join(tmpDir, "models")
	cfg.Logging.File = filepath.Join(tmpDir, "logs", "facewatch.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Models.Dir, filepath.Join(tmpDir, "logs")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s was not created", dir)
		}
	}
}
