// Package interfaces defines contracts for major components to enable dependency injection.
package interfaces

import (
	"io"
	"net/http"
)

// Client defines the contract for HTTP client implementations.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// Stream is the uniform contract every stream source satisfies.
//
// ReadPackets returns the number of bytes copied into p, a whole number of
// packets whenever p holds at least one; 0 means end of stream.
// Seek follows io.Seeker; a stream that cannot seek returns -1 with an error.
// Close releases the underlying transport and never fails.
// Calls on one Stream must be serialized by the caller.
type Stream interface {
	ReadPackets(p []byte) int
	io.Seeker
	Close()

	CanSeek() bool
	Length() int64
	Position() int64
	MediaType() string
	IsRealtime() bool
}

// Tuner is one tuner of a network tuner device.
type Tuner interface {
	// Name returns the tuner identity, e.g. "10.0.0.5-1".
	Name() string

	// Lock acquires the tuner lock for this handle.
	Lock() error
	// Unlock releases the tuner lock held by this handle.
	Unlock() error
	// Available reports whether nobody holds the tuner.
	Available() (bool, error)

	SetChannel(channel string) error
	SetProgram(program string) error
	// ClearChannel resets the tuner channel to none.
	ClearChannel() error

	// StreamStart directs the tuner output at a local socket.
	StreamStart() error
	// Recv returns up to limit bytes without blocking; nil when nothing is buffered.
	Recv(limit int) ([]byte, error)
	StreamStop()

	Close() error
}

// Selector chooses and locks one free tuner out of a candidate set.
type Selector interface {
	ChooseAndLock(tuners []Tuner) (Tuner, error)
}
