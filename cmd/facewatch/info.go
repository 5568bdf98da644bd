package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}

			store, err := cacheStore()
			if err != nil {
				return err
			}
			sealing := "plain"
			if store.Encrypted() {
				sealing = "sealed"
			}

			fmt.Println("# Effective configuration")
			fmt.Printf("# detector:   %s\n", cfg.DetectorPath())
			fmt.Printf("# recognizer: %s\n", cfg.RecognizerPath())
			fmt.Printf("# gallery:    %s\n", cfg.GalleryPath())
			fmt.Printf("# bank cache: %s (%s)\n", store.Path(cfg.CachePath()), sealing)
			fmt.Print(string(out))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FaceWatch v%s\n", version)
			fmt.Println("Face identity matching for video files and live streams")
			fmt.Println()
			fmt.Println("Build Information:")
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
