// Package config provides configuration management for FaceWatch.
// It loads configuration from YAML files with sensible defaults and
// applies FACEWATCH_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file settings.
const EnvPrefix = "FACEWATCH"

// Backends understood by the engine factory.
const (
	BackendOpenCV = "opencv"
	BackendDlib   = "dlib"
)

// Config holds all FaceWatch configuration.
type Config struct {
	Models      ModelsConfig      `yaml:"models" envconfig:"models"`
	Detection   DetectionConfig   `yaml:"detection" envconfig:"detection"`
	Recognition RecognitionConfig `yaml:"recognition" envconfig:"recognition"`
	Storage     StorageConfig     `yaml:"storage" envconfig:"storage"`
	Stream      StreamConfig      `yaml:"stream" envconfig:"stream"`
	Output      OutputConfig      `yaml:"output" envconfig:"output"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"logging"`
}

// ModelsConfig holds model locations and the engine backend.
type ModelsConfig struct {
	Dir        string `yaml:"dir" envconfig:"dir"`
	Backend    string `yaml:"backend" envconfig:"backend"`
	Detector   string `yaml:"detector" envconfig:"detector"`
	Recognizer string `yaml:"recognizer" envconfig:"recognizer"`
	// DlibDir holds the dlib .dat files used by the dlib backend.
	DlibDir string `yaml:"dlib_dir" envconfig:"dlib_dir"`
	// RuntimeLibrary is the onnxruntime shared library; empty uses the loader default.
	RuntimeLibrary string `yaml:"runtime_library" envconfig:"runtime_library"`
	Threads        int    `yaml:"threads" envconfig:"threads"`
}

// DetectionConfig holds face detector settings.
type DetectionConfig struct {
	ScoreThreshold      float64 `yaml:"score_threshold" envconfig:"score_threshold"`
	TrainScoreThreshold float64 `yaml:"train_score_threshold" envconfig:"train_score_threshold"`
	NMSThreshold        float64 `yaml:"nms_threshold" envconfig:"nms_threshold"`
	TopK                int     `yaml:"top_k" envconfig:"top_k"`
	InputWidth          int     `yaml:"input_width" envconfig:"input_width"`
	InputHeight         int     `yaml:"input_height" envconfig:"input_height"`
	Margin              int     `yaml:"margin" envconfig:"margin"`
}

// RecognitionConfig holds embedding and matching settings.
type RecognitionConfig struct {
	Threshold    float64 `yaml:"threshold" envconfig:"threshold"`
	EmbeddingDim int     `yaml:"embedding_dim" envconfig:"embedding_dim"`
	CropSize     int     `yaml:"crop_size" envconfig:"crop_size"`
}

// StorageConfig holds gallery and cache locations.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir" envconfig:"data_dir"`
	Gallery      string `yaml:"gallery" envconfig:"gallery"`
	Cache        string `yaml:"cache" envconfig:"cache"`
	EncryptCache bool   `yaml:"encrypt_cache" envconfig:"encrypt_cache"`
}

// StreamConfig holds media source and reconnection settings.
type StreamConfig struct {
	ReconnectAttempts int           `yaml:"reconnect_attempts" envconfig:"reconnect_attempts"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff" envconfig:"reconnect_backoff"`
	FallbackFPS       float64       `yaml:"fallback_fps" envconfig:"fallback_fps"`
	FourCC            string        `yaml:"fourcc" envconfig:"fourcc"`
	CaptureAPI        string        `yaml:"capture_api" envconfig:"capture_api"`
}

// Color is a BGR triple, matching OpenCV channel order.
type Color [3]uint8

// OutputConfig holds annotation and sink settings.
type OutputConfig struct {
	RecognizedColor   Color  `yaml:"recognized_color" ignored:"true"`
	UnrecognizedColor Color  `yaml:"unrecognized_color" ignored:"true"`
	DrawConfidence    bool   `yaml:"draw_confidence" envconfig:"draw_confidence"`
	WindowName        string `yaml:"window_name" envconfig:"window_name"`
	InferOutput       string `yaml:"infer_output" envconfig:"infer_output"`
	StreamOutput      string `yaml:"stream_output" envconfig:"stream_output"`
	Progress          bool   `yaml:"progress" envconfig:"progress"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"level"`
	File   string `yaml:"file" envconfig:"file"`
	Format string `yaml:"format" envconfig:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facewatch")
	return &Config{
		Models: ModelsConfig{
			Dir:        filepath.Join(dataDir, "models"),
			Backend:    BackendOpenCV,
			Detector:   "face_detection_yunet_2023mar.onnx",
			Recognizer: "recognition_resnet27.onnx",
			DlibDir:    filepath.Join(dataDir, "models", "dlib"),
		},
		Detection: DetectionConfig{
			ScoreThreshold:      0.7,
			TrainScoreThreshold: 0.6,
			NMSThreshold:        0.5,
			TopK:                5000,
			InputWidth:          320,
			InputHeight:         320,
			Margin:              10,
		},
		Recognition: RecognitionConfig{
			Threshold:    0.5,
			EmbeddingDim: 512,
			CropSize:     128,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			Gallery: "database.json",
			Cache:   "bank_cache.gob",
		},
		Stream: StreamConfig{
			ReconnectAttempts: 5,
			ReconnectBackoff:  2 * time.Second,
			FallbackFPS:       25,
			FourCC:            "mp4v",
		},
		Output: OutputConfig{
			RecognizedColor:   Color{0, 255, 0},
			UnrecognizedColor: Color{0, 200, 200},
			DrawConfidence:    true,
			WindowName:        "FaceWatch",
			InferOutput:       "output.mp4",
			StreamOutput:      "stream_output.mp4",
			Progress:          true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file and applies environment overrides.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := ApplyEnv(config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries the system and user config locations, falling back to defaults.
func LoadDefault() (*Config, error) {
	candidates := []string{"/etc/facewatch/facewatch.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config/facewatch/facewatch.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	config := DefaultConfig()
	if err := ApplyEnv(config); err != nil {
		return config, err
	}
	return config, nil
}

// ApplyEnv overrides settings from FACEWATCH_* variables, e.g.
// FACEWATCH_RECOGNITION_THRESHOLD or FACEWATCH_STREAM_RECONNECT_BACKOFF.
// Unset variables leave the current value untouched.
func ApplyEnv(c *Config) error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Models.Backend {
	case BackendOpenCV, BackendDlib:
	default:
		return fmt.Errorf("invalid backend: %s (must be %s or %s)", c.Models.Backend, BackendOpenCV, BackendDlib)
	}

	if err := unitRange("detection.score_threshold", c.Detection.ScoreThreshold); err != nil {
		return err
	}
	if err := unitRange("detection.train_score_threshold", c.Detection.TrainScoreThreshold); err != nil {
		return err
	}
	if err := unitRange("detection.nms_threshold", c.Detection.NMSThreshold); err != nil {
		return err
	}
	if c.Detection.TopK <= 0 {
		return fmt.Errorf("detection.top_k must be positive, got %d", c.Detection.TopK)
	}
	if c.Detection.InputWidth <= 0 || c.Detection.InputHeight <= 0 {
		return fmt.Errorf("invalid detector input size: %dx%d", c.Detection.InputWidth, c.Detection.InputHeight)
	}
	if c.Detection.Margin < 0 {
		return fmt.Errorf("detection.margin must not be negative, got %d", c.Detection.Margin)
	}

	// Cosine similarity spans [-1, 1].
	if c.Recognition.Threshold < -1 || c.Recognition.Threshold > 1 {
		return fmt.Errorf("recognition.threshold must be between -1 and 1, got %f", c.Recognition.Threshold)
	}
	if c.Recognition.EmbeddingDim <= 0 {
		return fmt.Errorf("recognition.embedding_dim must be positive, got %d", c.Recognition.EmbeddingDim)
	}
	if c.Recognition.CropSize <= 0 {
		return fmt.Errorf("recognition.crop_size must be positive, got %d", c.Recognition.CropSize)
	}

	if c.Storage.Gallery == "" || c.Storage.Cache == "" {
		return errors.New("storage.gallery and storage.cache must be set")
	}

	if c.Stream.ReconnectAttempts < 0 {
		return fmt.Errorf("stream.reconnect_attempts must not be negative, got %d", c.Stream.ReconnectAttempts)
	}
	if c.Stream.ReconnectBackoff <= 0 {
		return fmt.Errorf("stream.reconnect_backoff must be positive, got %s", c.Stream.ReconnectBackoff)
	}
	if c.Stream.FallbackFPS <= 0 {
		return fmt.Errorf("stream.fallback_fps must be positive, got %f", c.Stream.FallbackFPS)
	}
	if len(c.Stream.FourCC) != 4 {
		return fmt.Errorf("stream.fourcc must be 4 characters, got %q", c.Stream.FourCC)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

func unitRange(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, v)
	}
	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Models.Dir = ExpandPath(c.Models.Dir)
	c.Models.DlibDir = ExpandPath(c.Models.DlibDir)
	c.Models.RuntimeLibrary = ExpandPath(c.Models.RuntimeLibrary)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Storage.Gallery = ExpandPath(c.Storage.Gallery)
	c.Storage.Cache = ExpandPath(c.Storage.Cache)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the data, models and log directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := os.MkdirAll(c.Models.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// resolve joins name onto dir unless name is already absolute or explicitly relative.
func resolve(dir, name string) string {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
		return name
	}
	return filepath.Join(dir, name)
}

// DetectorPath returns the YuNet model path.
func (c *Config) DetectorPath() string {
	return resolve(c.Models.Dir, c.Models.Detector)
}

// RecognizerPath returns the embedding model path.
func (c *Config) RecognizerPath() string {
	return resolve(c.Models.Dir, c.Models.Recognizer)
}

// GalleryPath returns the gallery document path.
func (c *Config) GalleryPath() string {
	return resolve(c.Storage.DataDir, c.Storage.Gallery)
}

// CachePath returns the bank cache artifact path.
func (c *Config) CachePath() string {
	return resolve(c.Storage.DataDir, c.Storage.Cache)
}
