// Package mpegts holds the MPEG transport stream packet and PSI helpers used
// by the stream filter.
package mpegts

import (
	"github.com/attaebra/hdhr-stream/internal/constants"
)

// Table identifiers.
const (
	TableIDPAT = 0x00
	TableIDPMT = 0x02

	// TableTerminator marks stuffing after the last section in a packet.
	TableTerminator = 0xFF
)

// StreamTypeDisabled replaces the stream type of elementary streams removed
// from a Program Map Table. 0x00 is reserved by ISO/IEC 13818-1.
const StreamTypeDisabled = 0x00

// NullPacket is the filler substituted for removed elementary stream packets.
var NullPacket = func() (pkt [constants.PacketSize]byte) {
	for i := range pkt {
		pkt[i] = 0xFF
	}
	pkt[0] = constants.SyncByte
	pkt[1] = byte(constants.NullPID >> 8)
	pkt[2] = byte(constants.NullPID & 0xFF)
	pkt[3] = 0x10 // payload only, continuity counter 0
	return pkt
}()

// PID returns the 13-bit packet identifier.
func PID(pkt []byte) uint16 {
	return uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
}

// PayloadUnitStart reports the payload_unit_start_indicator.
func PayloadUnitStart(pkt []byte) bool {
	return pkt[1]&0x40 != 0
}

// PayloadOffset returns where the payload begins, skipping any adaptation
// field. ok is false for packets without a payload.
func PayloadOffset(pkt []byte) (offset int, ok bool) {
	switch (pkt[3] >> 4) & 0x03 {
	case 0x01:
		return 4, true
	case 0x03:
		offset = 5 + int(pkt[4])
		return offset, offset < constants.PacketSize
	default:
		return 0, false
	}
}

// SectionLength reads the 12-bit section_length of the section at off.
func SectionLength(pkt []byte, off int) int {
	return int(pkt[off+1]&0x0F)<<8 | int(pkt[off+2])
}

// IsVideoStreamType reports whether a PMT stream_type carries video.
func IsVideoStreamType(streamType byte) bool {
	switch streamType {
	case 0x01, // MPEG-1 video
		0x02, // MPEG-2 video
		0x10, // MPEG-4 part 2
		0x1B, // H.264
		0x20, // H.264 MVC
		0x24, // HEVC
		0x42, // AVS
		0x80, // DigiCipher II video (ATSC)
		0xD1, // Dirac
		0xEA: // VC-1
		return true
	}
	return false
}
