package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrCodeEU/facewatch/pkg/config"
	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
	"github.com/google/renameio"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const yunetURL = "https://github.com/opencv/opencv_zoo/raw/main/models/face_detection_yunet/face_detection_yunet_2023mar.onnx"

// modelFile is a downloadable model. URLs ending in .bz2 are decompressed.
type modelFile struct {
	Name string
	URL  string
	Dir  string
}

func downloadableModels(c *config.Config, withDlib bool) []modelFile {
	models := []modelFile{
		{Name: filepath.Base(c.DetectorPath()), URL: yunetURL, Dir: filepath.Dir(c.DetectorPath())},
	}
	if withDlib {
		models = append(models,
			modelFile{
				Name: "shape_predictor_5_face_landmarks.dat",
				URL:  "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
				Dir:  c.Models.DlibDir,
			},
			modelFile{
				Name: "dlib_face_recognition_resnet_model_v1.dat",
				URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
				Dir:  c.Models.DlibDir,
			},
		)
	}
	return models
}

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage detection and recognition models",
	}

	var withDlib bool
	download := &cobra.Command{
		Use:   "download",
		Short: "Download the YuNet detector (and optionally the dlib models)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownloadModels(cmd.Context(), downloadableModels(cfg, withDlib))
		},
	}
	download.Flags().BoolVar(&withDlib, "dlib", false, "also download the dlib backend models")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show which configured models are present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printModelStatus(cfg)
			return nil
		},
	}

	cmd.AddCommand(download, status)
	return cmd
}

func runDownloadModels(ctx context.Context, models []modelFile) error {
	for _, model := range models {
		if err := os.MkdirAll(model.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}

		targetPath := filepath.Join(model.Dir, model.Name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", model.Name)
			continue
		}

		logging.Infof("Downloading %s...", model.Name)
		if err := download(ctx, model.URL, targetPath); err != nil {
			return fmt.Errorf("failed to download %s: %w", model.Name, err)
		}
		logging.Infof("Successfully downloaded %s", model.Name)
	}

	if err := recognition.RequireModel("recognizer", cfg.RecognizerPath()); err != nil && cfg.Models.Backend == config.BackendOpenCV {
		fmt.Printf("Note: place the ONNX recognizer at %s\n", cfg.RecognizerPath())
	}
	logging.Info("All models downloaded successfully!")
	return nil
}

// download fetches url into targetPath, replacing it atomically once complete.
func download(ctx context.Context, url, targetPath string) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := renameio.TempFile("", targetPath)
	if err != nil {
		return err
	}
	defer func() { _ = out.Cleanup() }()

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetDescription(filepath.Base(targetPath)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
	)

	var body io.Reader = io.TeeReader(resp.Body, bar)
	if strings.HasSuffix(url, ".bz2") {
		body = bzip2.NewReader(body)
	}

	if _, err := io.Copy(out, body); err != nil {
		return err
	}
	_ = bar.Finish()
	return out.CloseAtomicallyReplace()
}

func printModelStatus(c *config.Config) {
	check := func(kind, path string) {
		state := "ok"
		if err := recognition.RequireModel(kind, path); err != nil {
			state = "missing"
		}
		fmt.Printf("  %-10s %-8s %s\n", kind, state, path)
	}

	fmt.Printf("Backend: %s\n", c.Models.Backend)
	switch c.Models.Backend {
	case config.BackendDlib:
		check("landmarks", filepath.Join(c.Models.DlibDir, "shape_predictor_5_face_landmarks.dat"))
		check("resnet", filepath.Join(c.Models.DlibDir, "dlib_face_recognition_resnet_model_v1.dat"))
	default:
		check("detector", c.DetectorPath())
		check("recognizer", c.RecognizerPath())
	}
}
