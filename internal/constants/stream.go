// Package constants provides shared constants used throughout the application.
package constants

import (
	"math"
	"time"
)

// MPEG transport stream framing.
const (
	// PacketSize is the length of one transport stream packet.
	PacketSize = 188

	// SyncByte is the first byte of every transport stream packet.
	SyncByte = 0x47

	// NullPID identifies null (filler) packets.
	NullPID = 0x1FFF

	// PATPID carries the Program Association Table.
	PATPID = 0x0000
)

// Stream geometry.
const (
	// UnknownLength is reported as the length of real-time streams.
	UnknownLength int64 = math.MaxInt64

	// MaxPosition is the clamp applied to seek targets that overflow.
	MaxPosition int64 = math.MaxInt64

	// BufferAlignment is the granularity ring buffer capacities are rounded up to.
	BufferAlignment = 64 * 1024

	// DefaultBufferSize is the default ring buffer capacity.
	DefaultBufferSize = 4 * 1024 * 1024 // 4MB

	// DefaultReadMinCount is the default minimum chunk a read waits for.
	DefaultReadMinCount = 4 * 1024

	// DefaultIngestChunkSize is how much body data one transfer step pulls off the wire.
	DefaultIngestChunkSize = 16 * 1024
)

// Tuner receive pacing.
const (
	// DefaultTunerRecvInterval is the sleep between empty receive attempts.
	DefaultTunerRecvInterval = 15 * time.Millisecond

	// DefaultTunerRecvMaxWait bounds how long one read waits for tuner data.
	DefaultTunerRecvMaxWait = time.Second
)

// HDHomeRun network ports.
const (
	// ControlPort is the TCP port of the HDHomeRun get/set control protocol.
	ControlPort = 65001

	// HTTPStreamPort serves tuner and storage streams over HTTP.
	HTTPStreamPort = 5004
)

// HTTP content types.
const (
	// ContentTypeStream is the MIME type for MPEG-TS streams.
	ContentTypeStream = "video/mp2t"
)
