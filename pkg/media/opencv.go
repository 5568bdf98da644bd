package media

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"

	"github.com/MrCodeEU/facewatch/pkg/logging"
	"gocv.io/x/gocv"
)

// Keys that end display mode.
const (
	keyQuit   = 'q'
	keyEscape = 27
)

var captureAPIs = map[string]gocv.VideoCaptureAPI{
	"":          gocv.VideoCaptureAny,
	"any":       gocv.VideoCaptureAny,
	"ffmpeg":    gocv.VideoCaptureFFmpeg,
	"gstreamer": gocv.VideoCaptureGstreamer,
	"v4l2":      gocv.VideoCaptureV4L2,
}

// ParseCaptureAPI maps a backend hint to an OpenCV capture API.
func ParseCaptureAPI(name string) (gocv.VideoCaptureAPI, error) {
	api, ok := captureAPIs[strings.ToLower(name)]
	if !ok {
		return gocv.VideoCaptureAny, fmt.Errorf("unknown capture backend %q (must be ffmpeg, gstreamer, v4l2 or any)", name)
	}
	return api, nil
}

// deviceOrPath turns "0", "1", ... into camera indices and leaves paths and URLs alone.
func deviceOrPath(source string) interface{} {
	if id, err := strconv.Atoi(source); err == nil && id >= 0 {
		return id
	}
	return source
}

// OpenCVOpener opens sources with OpenCV VideoCapture.
type OpenCVOpener struct {
	API gocv.VideoCaptureAPI
}

// NewOpenCVOpener creates an opener for the given backend hint.
func NewOpenCVOpener(backend string) (*OpenCVOpener, error) {
	api, err := ParseCaptureAPI(backend)
	if err != nil {
		return nil, err
	}
	return &OpenCVOpener{API: api}, nil
}

// Open opens source with the configured capture API.
func (o *OpenCVOpener) Open(source string) (Source, error) {
	capture, err := gocv.OpenVideoCaptureWithAPI(deviceOrPath(source), o.API)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenFailed, source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpenFailed, source)
	}

	s := &opencvSource{capture: capture, mat: gocv.NewMat()}
	logging.WithFields(logging.Fields{
		"source": source,
		"fps":    s.FrameRate(),
		"frames": s.FrameCount(),
	}).Debug("Opened media source")
	return s, nil
}

type opencvSource struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

func (s *opencvSource) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil, ErrClosed
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, ErrEndOfStream
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

func (s *opencvSource) FrameRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return 0
	}
	if fps := s.capture.Get(gocv.VideoCaptureFPS); fps > 0 {
		return fps
	}
	return 0
}

func (s *opencvSource) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return 0
	}
	if n := int(s.capture.Get(gocv.VideoCaptureFrameCount)); n > 0 {
		return n
	}
	return 0
}

func (s *opencvSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	if mErr := s.mat.Close(); err == nil {
		err = mErr
	}
	return err
}

// OpenCVWriterFactory returns a factory for VideoWriter files encoded with fourcc.
func OpenCVWriterFactory(fourcc string) WriterFactory {
	return func(path string, size image.Point, fps float64) (Writer, error) {
		vw, err := gocv.VideoWriterFile(path, fourcc, fps, size.X, size.Y, true)
		if err != nil {
			return nil, fmt.Errorf("%w: writer %s: %v", ErrOpenFailed, path, err)
		}
		if !vw.IsOpened() {
			vw.Close()
			return nil, fmt.Errorf("%w: writer %s", ErrOpenFailed, path)
		}
		logging.WithFields(logging.Fields{
			"path":   path,
			"size":   size,
			"fps":    fps,
			"fourcc": fourcc,
		}).Info("Writing annotated video")
		return &opencvWriter{vw: vw}, nil
	}
}

type opencvWriter struct {
	vw *gocv.VideoWriter
}

func (w *opencvWriter) Write(frame image.Image) error {
	if w.vw == nil {
		return ErrClosed
	}
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()
	return w.vw.Write(mat)
}

func (w *opencvWriter) Close() error {
	if w.vw == nil {
		return nil
	}
	err := w.vw.Close()
	w.vw = nil
	return err
}

// OpenCVDisplayFactory returns a factory for named HighGUI windows.
func OpenCVDisplayFactory(name string) DisplayFactory {
	return func() (Display, error) {
		return &opencvDisplay{window: gocv.NewWindow(name)}, nil
	}
}

type opencvDisplay struct {
	window *gocv.Window
}

func (d *opencvDisplay) Show(frame image.Image) bool {
	if d.window == nil {
		return true
	}
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		logging.Warnf("Failed to convert frame for display: %v", err)
		return false
	}
	defer mat.Close()

	d.window.IMShow(mat)
	return IsQuitKey(d.window.WaitKey(1))
}

func (d *opencvDisplay) Close() error {
	if d.window == nil {
		return nil
	}
	err := d.window.Close()
	d.window = nil
	return err
}

// IsQuitKey reports whether key is q or Esc.
func IsQuitKey(key int) bool {
	return key&0xFF == keyQuit || key&0xFF == keyEscape
}
