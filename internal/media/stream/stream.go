// Package stream implements the stream sources behind interfaces.Stream: a
// ring-buffered HTTP download, a live tuner device stream and a transport
// stream filter that strips video from radio channels.
package stream

import "errors"

// SeekUnsupported is the position Seek reports when the stream cannot seek.
const SeekUnsupported int64 = -1

var (
	// ErrSeekUnsupported accompanies SeekUnsupported.
	ErrSeekUnsupported = errors.New("stream does not support seeking")

	ErrNoTunerAvailable = errors.New("no tuner available")
	ErrUnknownTuner     = errors.New("selected tuner is not one of the candidates")
	ErrTuneRejected     = errors.New("tuner rejected tuning parameters")
	ErrNoSources        = errors.New("no stream source could be opened")
)
