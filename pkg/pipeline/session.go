package pipeline

import (
	"fmt"
	"time"

	"github.com/MrCodeEU/facewatch/pkg/media"
)

// State is a recognition loop state.
type State int

const (
	StateInit State = iota
	StateRunning
	StateReconnecting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// WriterState tracks the lazily created output writer.
type WriterState int

const (
	WriterUninitialized WriterState = iota
	WriterActive
	WriterClosed
)

func (w WriterState) String() string {
	switch w {
	case WriterUninitialized:
		return "uninitialized"
	case WriterActive:
		return "active"
	case WriterClosed:
		return "closed"
	}
	return fmt.Sprintf("WriterState(%d)", int(w))
}

// StreamSession is the mutable state of one Run. Only the loop writes to it.
type StreamSession struct {
	ID             string
	Source         string
	Kind           media.Kind
	State          State
	FrameIndex     int
	Attempt        int
	WriterState    WriterState
	FrameRate      float64
	DisplayEnabled bool

	Faces             int
	Recognized        int
	DetectionFailures int
	EmbeddingFailures int
	Reconnects        int
	Exhausted         bool
	Quit              bool
	Cancelled         bool

	started time.Time
	source  media.Source
	writer  media.Writer
	display media.Display
}

// Summary is what a finished Run reports.
type Summary struct {
	SessionID         string
	Frames            int
	Faces             int
	Recognized        int
	DetectionFailures int
	EmbeddingFailures int
	Reconnects        int
	// Exhausted is set when the reconnect budget ran out.
	Exhausted bool
	// Quit is set when the user closed the display.
	Quit      bool
	Cancelled bool
	Duration  time.Duration
}

func (s *StreamSession) summary() Summary {
	return Summary{
		SessionID:         s.ID,
		Frames:            s.FrameIndex,
		Faces:             s.Faces,
		Recognized:        s.Recognized,
		DetectionFailures: s.DetectionFailures,
		EmbeddingFailures: s.EmbeddingFailures,
		Reconnects:        s.Reconnects,
		Exhausted:         s.Exhausted,
		Quit:              s.Quit,
		Cancelled:         s.Cancelled,
		Duration:          time.Since(s.started),
	}
}
