package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/MrCodeEU/facewatch/pkg/bank"
	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/media"
	"github.com/MrCodeEU/facewatch/pkg/pipeline"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
)

// recognizeFlags are shared by infer and stream.
type recognizeFlags struct {
	detector     string
	recognizer   string
	threshold    float64
	backend      string
	noSave       bool
	save         bool
	display      bool
	headless     bool
	rebuildCache bool
}

func (f *recognizeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.detector, "detector", "d", "", "detector model path (default from config)")
	cmd.Flags().StringVarP(&f.recognizer, "recognizer", "r", "", "recognizer model path (default from config)")
	cmd.Flags().Float64VarP(&f.threshold, "threshold", "t", 0, "recognition threshold (default recognition.threshold)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "capture backend hint: ffmpeg, gstreamer, v4l2 or any")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "do not write the annotated video")
	cmd.Flags().BoolVar(&f.display, "display", false, "show the annotated frames in a window")
	cmd.Flags().BoolVar(&f.rebuildCache, "rebuild-cache", false, "rebuild the bank cache from the gallery")
}

// inferPolicy persists unless --no-save and displays only with --display.
func inferPolicy(f recognizeFlags) pipeline.OutputPolicy {
	policy := pipeline.OutputNone
	if !f.noSave {
		policy |= pipeline.OutputPersist
	}
	if f.display {
		policy |= pipeline.OutputDisplay
	}
	return policy
}

// streamPolicy displays by default and persists only with --save.
// --headless disables both.
func streamPolicy(f recognizeFlags) pipeline.OutputPolicy {
	if f.headless {
		return pipeline.OutputNone
	}
	policy := pipeline.OutputDisplay
	if f.save && !f.noSave {
		policy |= pipeline.OutputPersist
	}
	return policy
}

func newInferCmd() *cobra.Command {
	var f recognizeFlags

	cmd := &cobra.Command{
		Use:   "infer <input> [output]",
		Short: "Annotate a video file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := cfg.Output.InferOutput
			if len(args) > 1 {
				output = args[1]
			}
			req := pipeline.Request{
				Source:     args[0],
				Kind:       media.KindFile,
				Policy:     inferPolicy(f),
				OutputPath: output,
			}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &f.threshold
			}
			return runRecognize(cmd.Context(), req, f, nil)
		},
	}

	f.register(cmd)
	return cmd
}

func newStreamCmd() *cobra.Command {
	var (
		f      recognizeFlags
		output string
		kind   string
	)

	cmd := &cobra.Command{
		Use:   "stream <source>",
		Short: "Recognize faces on a live stream (rtsp://..., device index or file)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := media.ParseKind(kind)
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.Output.StreamOutput
			}
			req := pipeline.Request{
				Source:     args[0],
				Kind:       k,
				Policy:     streamPolicy(f),
				OutputPath: output,
			}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &f.threshold
			}
			return runRecognize(cmd.Context(), req, f, notifySystemd)
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVar(&f.headless, "headless", false, "run without display or output file")
	cmd.Flags().BoolVar(&f.save, "save", false, "write the annotated stream to --output")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path when saving (default output.stream_output)")
	cmd.Flags().StringVar(&kind, "kind", media.KindStream.String(), "source kind: stream reconnects on read failure, file stops")
	return cmd
}

// notifySystemd reports loop states to the service manager when run as a unit.
func notifySystemd(state pipeline.State, s *pipeline.StreamSession) {
	var msgs []string
	switch state {
	case pipeline.StateRunning:
		if s.Reconnects == 0 {
			msgs = append(msgs, daemon.SdNotifyReady)
		}
		msgs = append(msgs, fmt.Sprintf("STATUS=Watching %s", s.Source))
	case pipeline.StateReconnecting:
		msgs = append(msgs, fmt.Sprintf("STATUS=Reconnecting to %s after frame %d", s.Source, s.FrameIndex))
	case pipeline.StateDone:
		msgs = append(msgs, daemon.SdNotifyStopping)
	}
	for _, msg := range msgs {
		if _, err := daemon.SdNotify(false, msg); err != nil {
			logging.Debugf("sd_notify failed: %v", err)
		}
	}
}

func runRecognize(ctx context.Context, req pipeline.Request, f recognizeFlags,
	onState func(pipeline.State, *pipeline.StreamSession)) error {
	engines, err := openEngines(f.detector, f.recognizer)
	if err != nil {
		return err
	}
	defer func() { _ = engines.Close() }()

	b, err := loadBank(f.rebuildCache, engines.Embedder.Dim())
	if err != nil {
		return err
	}

	backend := f.backend
	if backend == "" {
		backend = cfg.Stream.CaptureAPI
	}
	opener, err := media.NewOpenCVOpener(backend)
	if err != nil {
		return err
	}

	opts := pipeline.OptionsFromConfig(cfg)
	if cfg.Output.Progress {
		opts.Progress = os.Stderr
	}
	opts.OnStateChange = onState

	p := pipeline.New(engines.Detector, engines.Embedder, b, opener,
		media.OpenCVWriterFactory(cfg.Stream.FourCC),
		media.OpenCVDisplayFactory(cfg.Output.WindowName),
		pipeline.StyleFromConfig(cfg.Output),
		opts,
	)

	summary, err := p.Run(ctx, req)
	if err != nil {
		return err
	}

	printSummary(req, summary)
	return nil
}

// loadBank loads the cached bank or builds it from the gallery.
func loadBank(rebuild bool, dim int) (*bank.Bank, error) {
	store, err := cacheStore()
	if err != nil {
		return nil, err
	}
	if rebuild {
		if err := store.Remove(cfg.CachePath()); err != nil {
			return nil, err
		}
	}
	return bank.LoadOrBuild(store, cfg.CachePath(), cfg.GalleryPath(), dim)
}

func printSummary(req pipeline.Request, s pipeline.Summary) {
	fmt.Printf("Processed %d frame(s) in %s\n", s.Frames, s.Duration.Round(time.Millisecond))
	fmt.Printf("  Faces:       %d (%d recognized)\n", s.Faces, s.Recognized)
	if s.Reconnects > 0 {
		fmt.Printf("  Reconnects:  %d\n", s.Reconnects)
	}
	if s.Exhausted {
		fmt.Println("  Stream lost: reconnect attempts exhausted")
	}
	if req.Policy.Persist() && s.Frames > 0 {
		fmt.Printf("  Output:      %s\n", req.OutputPath)
	}
}
