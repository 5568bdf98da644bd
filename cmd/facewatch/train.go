package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MrCodeEU/facewatch/pkg/config"
	"github.com/MrCodeEU/facewatch/pkg/gallery"
	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/spf13/cobra"
)

func newTrainCmd() *cobra.Command {
	var (
		detector string
		score    float64
	)

	cmd := &cobra.Command{
		Use:   "train <dataset>",
		Short: "Build the gallery from a dataset of identity folders",
		Long: `Scan <dataset>/<person>/* images, embed the first face found in each and
write the gallery document. The bank cache is removed so the next run rebuilds it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var override *float64
			if cmd.Flags().Changed("score") {
				override = &score
			}
			return runTrain(cmd.Context(), args[0], detector, override)
		},
	}

	cmd.Flags().StringVarP(&detector, "detector", "d", "", "detector model path (default from config)")
	cmd.Flags().Float64Var(&score, "score", 0, "detection score threshold (default detection.train_score_threshold)")
	return cmd
}

// trainOptions builds scan options from c; score overrides the configured
// detection threshold when set, including to zero.
func trainOptions(c *config.Config, score *float64) gallery.Options {
	opts := gallery.DefaultOptions()
	opts.ScoreThreshold = c.Detection.TrainScoreThreshold
	opts.Margin = c.Detection.Margin
	if score != nil {
		opts.ScoreThreshold = *score
	}
	if c.Output.Progress {
		opts.Progress = os.Stderr
	}
	return opts
}

func runTrain(ctx context.Context, dataset, detector string, score *float64) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	engines, err := openEngines(detector, "")
	if err != nil {
		return err
	}
	defer func() { _ = engines.Close() }()

	doc, err := gallery.NewBuilder(engines.Detector, engines.Embedder).Build(ctx, dataset, trainOptions(cfg, score))
	if err != nil {
		return err
	}

	galleryPath := cfg.GalleryPath()
	if err := gallery.SaveDocument(galleryPath, doc); err != nil {
		return fmt.Errorf("failed to save gallery: %w", err)
	}

	store, err := cacheStore()
	if err != nil {
		return err
	}
	if err := store.Remove(cfg.CachePath()); err != nil {
		logging.Warnf("Failed to remove stale bank cache: %v", err)
	}

	fmt.Printf("Gallery written to %s\n", galleryPath)
	fmt.Printf("  Entries:       %d\n", len(doc.Entries))
	fmt.Printf("  People:        %d\n", len(doc.People()))
	fmt.Printf("  Failed images: %d\n", doc.FailedImages)
	return nil
}
