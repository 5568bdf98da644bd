package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MrCodeEU/facewatch/pkg/config"
	"github.com/MrCodeEU/facewatch/pkg/gallery"
	"github.com/MrCodeEU/facewatch/pkg/inference"
	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/pipeline"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
	"github.com/MrCodeEU/facewatch/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// Exit statuses beyond the generic failure.
const (
	exitFailure       = 1
	exitSourceFailed  = 2
	exitModelMissing  = 3
	exitGalleryAbsent = 4
)

var (
	cfg        *config.Config
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "facewatch",
	Short:         "Match faces in video files and live streams against a gallery of known people",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.SetVersionTemplate(`{{printf "FaceWatch v%s\n" .Version}}`)

	rootCmd.AddCommand(
		newTrainCmd(),
		newInferCmd(),
		newStreamCmd(),
		newModelsCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
}

// setup loads .env, the configuration and the logger.
func setup() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env: %v\n", err)
	}

	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}

	cfg.ExpandPaths()

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if err := logging.Init(level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	if err := logging.SetFormat(cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	logging.Debugf("FaceWatch v%s starting", version)
	logging.Debugf("Config loaded, data dir: %s", cfg.Storage.DataDir)

	return cfg.Validate()
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var runErr *pipeline.RunError
	switch {
	case errors.As(err, &runErr) && runErr.Code == pipeline.ErrCodeOpen:
		return exitSourceFailed
	case errors.Is(err, recognition.ErrModelNotFound):
		return exitModelMissing
	case errors.Is(err, gallery.ErrDocumentNotFound):
		return exitGalleryAbsent
	}
	return exitFailure
}

// overrideModel replaces a configured model with a path given on the
// command line, made absolute so it is not joined onto the models directory.
func overrideModel(current *string, path string) {
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	*current = path
}

// openEngines loads the configured engines, honouring -d/-r overrides.
func openEngines(detector, recognizer string) (*inference.Engines, error) {
	overrideModel(&cfg.Models.Detector, detector)
	overrideModel(&cfg.Models.Recognizer, recognizer)
	return inference.Open(cfg)
}

// cacheStore returns the store used for the bank cache.
func cacheStore() (*storage.FileStore, error) {
	return storage.NewFileStore(cfg.Storage.EncryptCache)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		logging.WithError(err).Debug("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
