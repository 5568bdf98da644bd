// Package pipeline runs the recognition loop: it reads frames from a media
// source, detects and identifies faces against a bank, annotates the frames
// and forwards them to a video writer and/or a display window. Stream
// sources are reopened with a linear backoff when reads fail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/MrCodeEU/facewatch/pkg/bank"
	"github.com/MrCodeEU/facewatch/pkg/config"
	"github.com/MrCodeEU/facewatch/pkg/logging"
	"github.com/MrCodeEU/facewatch/pkg/media"
	"github.com/MrCodeEU/facewatch/pkg/recognition"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// OutputPolicy selects where annotated frames go.
type OutputPolicy int

const (
	OutputNone    OutputPolicy = 0
	OutputPersist OutputPolicy = 1 << 0
	OutputDisplay OutputPolicy = 1 << 1
	OutputBoth                 = OutputPersist | OutputDisplay
)

// Persist reports whether frames are written to a file.
func (p OutputPolicy) Persist() bool { return p&OutputPersist != 0 }

// Display reports whether frames are shown in a window.
func (p OutputPolicy) Display() bool { return p&OutputDisplay != 0 }

func (p OutputPolicy) String() string {
	switch p {
	case OutputNone:
		return "none"
	case OutputPersist:
		return "persist"
	case OutputDisplay:
		return "display"
	case OutputBoth:
		return "both"
	}
	return fmt.Sprintf("OutputPolicy(%d)", int(p))
}

// Request describes one run of the loop.
type Request struct {
	Source     string
	Kind       media.Kind
	Policy     OutputPolicy
	OutputPath string
	// Threshold overrides Options.Threshold when set.
	Threshold *float64
}

// Options holds loop settings.
type Options struct {
	Threshold         float64
	Margin            int
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	FallbackFPS       float64
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer
	// OnStateChange is called on every state transition.
	OnStateChange func(state State, s *StreamSession)
}

// OptionsFromConfig returns loop options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Threshold:         cfg.Recognition.Threshold,
		Margin:            cfg.Detection.Margin,
		ReconnectAttempts: cfg.Stream.ReconnectAttempts,
		ReconnectBackoff:  cfg.Stream.ReconnectBackoff,
		FallbackFPS:       cfg.Stream.FallbackFPS,
	}
}

// Pipeline owns the engines and media factories used by Run.
type Pipeline struct {
	detector   recognition.Detector
	embedder   recognition.Embedder
	bank       *bank.Bank
	opener     media.Opener
	newWriter  media.WriterFactory
	newDisplay media.DisplayFactory
	style      Style
	opts       Options

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pipeline. The bank is read-only for the pipeline's lifetime.
func New(detector recognition.Detector, embedder recognition.Embedder, b *bank.Bank,
	opener media.Opener, writers media.WriterFactory, displays media.DisplayFactory,
	style Style, opts Options) *Pipeline {
	return &Pipeline{
		detector:   detector,
		embedder:   embedder,
		bank:       b,
		opener:     opener,
		newWriter:  writers,
		newDisplay: displays,
		style:      style,
		opts:       opts,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run carries per-Run values through the loop.
type run struct {
	req       Request
	threshold float64
	session   *StreamSession
	bar       *progressbar.ProgressBar
	log       *logging.Entry
}

// Run processes req until the media ends, the user quits, the context is
// cancelled or the reconnect budget is exhausted. Only a failure to open the
// source, the writer or the display returns an error. Every opened handle is
// released before Run returns.
func (p *Pipeline) Run(ctx context.Context, req Request) (summary Summary, err error) {
	r := &run{
		req:       req,
		threshold: p.opts.Threshold,
		session: &StreamSession{
			ID:      uuid.NewString(),
			Source:  req.Source,
			Kind:    req.Kind,
			started: time.Now(),
		},
	}
	if req.Threshold != nil {
		r.threshold = *req.Threshold
	}
	s := r.session
	r.log = logging.Component("pipeline").WithFields(logging.Fields{
		"session": s.ID,
		"source":  req.Source,
		"kind":    req.Kind.String(),
	})

	p.transition(s, StateInit)
	r.log.WithFields(logging.Fields{
		"threshold": r.threshold,
		"bank_rows": p.bank.Len(),
		"output":    req.Policy.String(),
	}).Info("Starting recognition loop")

	defer func() {
		p.cleanup(r)
		p.transition(s, StateDone)
		summary = s.summary()
		r.log.WithFields(logging.Fields{
			"frames":     summary.Frames,
			"faces":      summary.Faces,
			"recognized": summary.Recognized,
			"reconnects": summary.Reconnects,
			"duration":   summary.Duration.Round(time.Millisecond),
		}).Info("Recognition loop finished")
	}()

	src, err := p.opener.Open(req.Source)
	if err != nil {
		return Summary{}, NewRunError(ErrCodeOpen, err)
	}
	s.source = src
	s.FrameRate = src.FrameRate()

	if req.Policy.Display() {
		display, err := p.newDisplay()
		if err != nil {
			return Summary{}, NewRunError(ErrCodeDisplay, err)
		}
		s.display = display
		s.DisplayEnabled = true
	}

	r.bar = p.progressBar(req.Kind, src.FrameCount())

	state := StateRunning
	for state != StateDone {
		p.transition(s, state)
		switch state {
		case StateRunning:
			state, err = p.step(ctx, r)
		case StateReconnecting:
			state = p.reconnect(ctx, r)
		}
		if err != nil {
			return Summary{}, err
		}
	}
	return Summary{}, nil
}

func (p *Pipeline) transition(s *StreamSession, state State) {
	if s.State == state && state != StateInit {
		return
	}
	s.State = state
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(state, s)
	}
}

func (p *Pipeline) progressBar(kind media.Kind, frames int) *progressbar.ProgressBar {
	if p.opts.Progress == nil {
		return nil
	}
	total := frames
	if total <= 0 || kind == media.KindStream {
		total = -1
	}
	desc := "Processing frames"
	if kind == media.KindStream {
		desc = "Streaming"
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(p.opts.Progress),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
}

// step processes one frame and returns the next state.
func (p *Pipeline) step(ctx context.Context, r *run) (State, error) {
	s := r.session
	if ctx.Err() != nil {
		s.Cancelled = true
		r.log.Info("Recognition loop cancelled")
		return StateDone, nil
	}

	frame, err := s.source.Read()
	if err != nil {
		if s.Kind == media.KindStream {
			r.log.WithError(err).Warnf("Frame read failed after frame %d", s.FrameIndex)
			return StateReconnecting, nil
		}
		if !errors.Is(err, media.ErrEndOfStream) {
			r.log.WithError(err).Warn("Frame read failed, ending file")
		}
		return StateDone, nil
	}

	s.Attempt = 0
	s.FrameIndex++

	canvas := toRGBA(frame)

	if r.req.Policy.Persist() && s.WriterState == WriterUninitialized {
		if err := p.openWriter(r, canvas.Bounds().Size()); err != nil {
			return StateDone, err
		}
	}

	for _, d := range p.recognize(r, canvas) {
		p.style.Annotate(canvas, d)
	}

	if r.bar != nil {
		_ = r.bar.Add(1)
	}

	if s.display != nil && s.display.Show(canvas) {
		s.Quit = true
		r.log.Info("Display closed by user")
		return StateDone, nil
	}

	if s.WriterState == WriterActive {
		if err := s.writer.Write(canvas); err != nil {
			return StateDone, NewRunError(ErrCodeWriter, err)
		}
	}
	return StateRunning, nil
}

func (p *Pipeline) openWriter(r *run, size image.Point) error {
	s := r.session
	fps := s.FrameRate
	if fps <= 0 {
		fps = p.opts.FallbackFPS
	}
	w, err := p.newWriter(r.req.OutputPath, size, fps)
	if err != nil {
		return NewRunError(ErrCodeWriter, err)
	}
	s.writer = w
	s.WriterState = WriterActive
	return nil
}

// recognize detects, embeds and matches every face in frame.
func (p *Pipeline) recognize(r *run, frame *image.RGBA) []Detection {
	s := r.session
	res := p.detector.Detect(frame)
	if res.Failed() {
		s.DetectionFailures++
		r.log.WithError(res.Err).Debugf("Detection failed on frame %d", s.FrameIndex)
		return nil
	}

	detections := make([]Detection, 0, len(res.Faces))
	for _, f := range res.Faces {
		crop, rect, err := recognition.CropFace(frame, f, p.opts.Margin)
		if err != nil {
			continue
		}
		s.Faces++

		d := Detection{Box: rect, Label: bank.Unknown}
		emb := p.embedder.Embed(crop)
		if emb.Failed() {
			s.EmbeddingFailures++
			r.log.WithError(emb.Err).Debugf("Embedding failed on frame %d", s.FrameIndex)
		} else {
			d.Embedding = recognition.L2Normalize(emb.Vector)
			d.Label, d.Score = p.bank.Match(d.Embedding, r.threshold)
			d.Recognized = p.bank.Comparable(d.Embedding) && d.Score >= r.threshold
			if logging.IsDebug() {
				p.logMatch(r, d.Embedding)
			}
		}
		if d.Recognized {
			s.Recognized++
		}
		detections = append(detections, d)
	}
	return detections
}

// logMatch logs the closest gallery sample for a face, above or below threshold.
func (p *Pipeline) logMatch(r *run, query []float32) {
	best, ok := p.bank.Best(query)
	if !ok {
		return
	}
	r.log.WithFields(logging.Fields{
		"frame":  r.session.FrameIndex,
		"row":    best.Index,
		"person": best.Name,
		"sample": best.Meta.Path,
		"score":  best.Score,
	}).Debug("Closest gallery sample")
}

// reconnect reopens a failed stream, waiting attempt × backoff first.
func (p *Pipeline) reconnect(ctx context.Context, r *run) State {
	s := r.session
	if s.Attempt >= p.opts.ReconnectAttempts {
		s.Exhausted = true
		r.log.Warnf("Giving up after %d reconnect attempt(s)", s.Attempt)
		return StateDone
	}

	s.Attempt++
	s.Reconnects++
	p.closeSource(r)

	wait := time.Duration(s.Attempt) * p.opts.ReconnectBackoff
	r.log.WithFields(logging.Fields{
		"attempt": s.Attempt,
		"limit":   p.opts.ReconnectAttempts,
		"wait":    wait,
	}).Warn("Reconnecting to stream")

	if err := p.sleep(ctx, wait); err != nil {
		s.Cancelled = true
		return StateDone
	}

	src, err := p.opener.Open(r.req.Source)
	if err != nil {
		r.log.WithError(err).Warnf("Reconnect attempt %d failed", s.Attempt)
		return StateReconnecting
	}
	s.source = src
	if fps := src.FrameRate(); fps > 0 {
		s.FrameRate = fps
	}
	r.log.Infof("Reconnected after %d attempt(s)", s.Attempt)
	return StateRunning
}

func (p *Pipeline) closeSource(r *run) {
	if r.session.source == nil {
		return
	}
	if err := r.session.source.Close(); err != nil {
		r.log.WithError(err).Warn("Failed to close source")
	}
	r.session.source = nil
}

// cleanup releases the source, writer and display.
func (p *Pipeline) cleanup(r *run) {
	s := r.session
	p.closeSource(r)

	if s.WriterState == WriterActive {
		if err := s.writer.Close(); err != nil {
			r.log.WithError(err).Warn("Failed to close writer")
		}
		s.WriterState = WriterClosed
		s.writer = nil
	}

	if s.display != nil {
		if err := s.display.Close(); err != nil {
			r.log.WithError(err).Warn("Failed to close display")
		}
		s.display = nil
	}

	if r.bar != nil {
		_ = r.bar.Finish()
	}
}
