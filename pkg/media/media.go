// Package media provides frame sources, video writers and display windows
// for the recognition loop. Frames cross this boundary as image.Image.
package media

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrOpenFailed is returned when a source or writer cannot be opened.
var ErrOpenFailed = errors.New("failed to open media")

// ErrEndOfStream is returned by Read when no frame could be read.
var ErrEndOfStream = errors.New("end of stream")

// ErrClosed is returned when a handle is used after Close.
var ErrClosed = errors.New("media handle closed")

// Kind tells finite files apart from live streams.
type Kind int

const (
	// KindFile ends on the first failed read.
	KindFile Kind = iota
	// KindStream reconnects on failed reads.
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindStream:
		return "stream"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts "file" or "stream" into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "file":
		return KindFile, nil
	case "stream":
		return KindStream, nil
	}
	return KindFile, fmt.Errorf("unknown source kind %q", s)
}

// Source yields frames in order.
type Source interface {
	// Read returns the next frame or ErrEndOfStream.
	Read() (image.Image, error)
	// FrameRate is 0 when the source does not report one.
	FrameRate() float64
	// FrameCount is 0 when unknown.
	FrameCount() int
	Close() error
}

// Opener opens a source by name: a file path, URL or device index.
type Opener interface {
	Open(source string) (Source, error)
}

// Writer appends frames to a video file.
type Writer interface {
	Write(frame image.Image) error
	Close() error
}

// WriterFactory creates a writer for frames of the given size.
type WriterFactory func(path string, size image.Point, fps float64) (Writer, error)

// Display presents frames to the user.
type Display interface {
	// Show presents frame and reports whether the user asked to quit.
	Show(frame image.Image) (quit bool)
	Close() error
}

// DisplayFactory opens a display surface.
type DisplayFactory func() (Display, error)
