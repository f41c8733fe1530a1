package mpegts

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attaebra/hdhr-stream/internal/constants"
)

func TestCRC32CheckValue(t *testing.T) {
	// CRC-32/MPEG-2 catalogue check value.
	assert.Equal(t, uint32(0x0376E6E7), CRC32([]byte("123456789")))
	assert.Equal(t, uint32(0xFFFFFFFF), CRC32(nil))
}

// TestCRC32MatchesIndependentMuxer verifies the checksum against PSI tables
// produced by an unrelated muxer implementation.
func TestCRC32MatchesIndependentMuxer(t *testing.T) {
	var out bytes.Buffer
	mx := astits.NewMuxer(context.Background(), &out)
	require.NoError(t, mx.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: 0x100,
		StreamType:    astits.StreamType(0x1B),
	}))
	require.NoError(t, mx.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: 0x101,
		StreamType:    astits.StreamType(0x0F),
	}))
	mx.SetPCRPID(0x100)
	_, err := mx.WriteTables()
	require.NoError(t, err)

	data := out.Bytes()
	require.NotZero(t, len(data))
	require.Zero(t, len(data)%constants.PacketSize)

	checked := 0
	for off := 0; off < len(data); off += constants.PacketSize {
		pkt := data[off : off+constants.PacketSize]
		require.Equal(t, byte(constants.SyncByte), pkt[0])
		if !PayloadUnitStart(pkt) {
			continue
		}

		p, ok := PayloadOffset(pkt)
		require.True(t, ok)
		p += 1 + int(pkt[p])

		end := p + 3 + SectionLength(pkt, p)
		require.LessOrEqual(t, end, constants.PacketSize)

		stored := binary.BigEndian.Uint32(pkt[end-4 : end])
		assert.Equal(t, stored, CRC32(pkt[p:end-4]), "table 0x%02x", pkt[p])
		assert.Zero(t, CRC32(pkt[p:end]))
		checked++
	}
	assert.Equal(t, 2, checked, "expected a PAT and a PMT")
}

func TestPacketHeaderHelpers(t *testing.T) {
	pkt := make([]byte, constants.PacketSize)
	pkt[0] = constants.SyncByte
	pkt[1] = 0x41 // PUSI + PID high bits 0x01
	pkt[2] = 0x00
	pkt[3] = 0x10

	assert.Equal(t, uint16(0x100), PID(pkt))
	assert.True(t, PayloadUnitStart(pkt))

	off, ok := PayloadOffset(pkt)
	assert.True(t, ok)
	assert.Equal(t, 4, off)

	pkt[3] = 0x30
	pkt[4] = 7
	off, ok = PayloadOffset(pkt)
	assert.True(t, ok)
	assert.Equal(t, 12, off)

	pkt[4] = 183
	_, ok = PayloadOffset(pkt)
	assert.False(t, ok, "adaptation field filling the packet leaves no payload")

	pkt[3] = 0x20
	_, ok = PayloadOffset(pkt)
	assert.False(t, ok)
}

func TestNullPacket(t *testing.T) {
	assert.Equal(t, byte(constants.SyncByte), NullPacket[0])
	assert.Equal(t, uint16(constants.NullPID), PID(NullPacket[:]))
	for i := 4; i < constants.PacketSize; i++ {
		require.Equal(t, byte(0xFF), NullPacket[i], "offset %d", i)
	}
}

func TestIsVideoStreamType(t *testing.T) {
	for _, st := range []byte{0x01, 0x02, 0x1B, 0x24, 0x80, 0xEA} {
		assert.True(t, IsVideoStreamType(st), "0x%02x", st)
	}
	for _, st := range []byte{0x00, 0x03, 0x04, 0x0F, 0x11, 0x81, 0x87, 0x86} {
		assert.False(t, IsVideoStreamType(st), "0x%02x", st)
	}
}
