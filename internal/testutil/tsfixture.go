// Package testutil builds transport stream fixtures for tests.
package testutil

import (
	"encoding/binary"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/media/mpegts"
)

// Program is one PAT entry.
type Program struct {
	Number uint16
	PMTPID uint16
}

// ElementaryStream is one PMT elementary stream entry.
type ElementaryStream struct {
	StreamType  byte
	PID         uint16
	Descriptors []byte
}

// PATSection returns a complete PAT section including its CRC.
func PATSection(programs ...Program) []byte {
	sectionLength := 5 + 4*len(programs) + 4
	s := []byte{
		mpegts.TableIDPAT,
		0xB0 | byte(sectionLength>>8), byte(sectionLength),
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00,
	}
	for _, p := range programs {
		s = append(s, byte(p.Number>>8), byte(p.Number), 0xE0|byte(p.PMTPID>>8), byte(p.PMTPID))
	}
	return appendCRC(s)
}

// PMTSection returns a complete PMT section including its CRC.
func PMTSection(programNumber, pcrPID uint16, streams ...ElementaryStream) []byte {
	sectionLength := 9 + 4
	for _, es := range streams {
		sectionLength += 5 + len(es.Descriptors)
	}
	s := []byte{
		mpegts.TableIDPMT,
		0xB0 | byte(sectionLength>>8), byte(sectionLength),
		byte(programNumber >> 8), byte(programNumber),
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID),
		0xF0, 0x00, // program_info_length
	}
	for _, es := range streams {
		n := len(es.Descriptors)
		s = append(s, es.StreamType, 0xE0|byte(es.PID>>8), byte(es.PID), 0xF0|byte(n>>8), byte(n))
		s = append(s, es.Descriptors...)
	}
	return appendCRC(s)
}

func appendCRC(section []byte) []byte {
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], mpegts.CRC32(section))
	return append(section, crc[:]...)
}

// SectionPacket wraps sections (back to back) in one packet with a zero
// pointer field and 0xFF stuffing.
func SectionPacket(pid uint16, sections ...[]byte) []byte {
	pkt := make([]byte, 0, constants.PacketSize)
	pkt = append(pkt, constants.SyncByte, 0x40|byte(pid>>8), byte(pid), 0x10, 0x00)
	for _, s := range sections {
		pkt = append(pkt, s...)
	}
	for len(pkt) < constants.PacketSize {
		pkt = append(pkt, 0xFF)
	}
	return pkt
}

// PayloadPacket returns a payload-only packet filled with fill.
func PayloadPacket(pid uint16, cc byte, fill byte) []byte {
	pkt := make([]byte, constants.PacketSize)
	pkt[0] = constants.SyncByte
	pkt[1] = byte(pid >> 8)
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | (cc & 0x0F)
	for i := 4; i < len(pkt); i++ {
		pkt[i] = fill
	}
	return pkt
}

// Join concatenates packets into one stream.
func Join(packets ...[]byte) []byte {
	out := make([]byte, 0, len(packets)*constants.PacketSize)
	for _, p := range packets {
		out = append(out, p...)
	}
	return out
}

// Sequential returns n bytes whose values are i mod 251, so any offset
// within the data can be recognised.
func Sequential(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
