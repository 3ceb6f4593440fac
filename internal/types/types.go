package types

import "time"

// Frame is one capture of the remote screen, as returned by the backend.
// Data is the raw image payload (PNG from the reference backend).
type Frame struct {
	Data      []byte
	FetchedAt time.Time
}

// Status describes what the capture loop is currently doing: idle between
// fetches, downloading while a fetch is in flight, timeout/error after a
// failed attempt until a later one succeeds.
type Status int

const (
	StatusIdle Status = iota
	StatusDownloading
	StatusTimeout
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDownloading:
		return "downloading"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// FrameFunc receives each newly published frame.
type FrameFunc func(*Frame)

// StatusFunc receives status transitions of the capture loop.
type StatusFunc func(Status)
