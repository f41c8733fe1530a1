package stream

import (
	"encoding/binary"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/media/mpegts"
	"github.com/attaebra/hdhr-stream/internal/metrics"
)

// FilterStream wraps a transport stream and removes its video: video entries
// in every Program Map Table are disabled (with the table CRC recomputed) and
// packets on video PIDs are replaced with null packets.
type FilterStream struct {
	inner interfaces.Stream
	log   *logger.Logger

	disabled  bool
	pmtPIDs   map[uint16]struct{}
	videoPIDs map[uint16]struct{}
}

// Ensure FilterStream implements the Stream interface.
var _ interfaces.Stream = (*FilterStream)(nil)

// NewFilterStream takes ownership of inner.
func NewFilterStream(inner interfaces.Stream) *FilterStream {
	return &FilterStream{
		inner:     inner,
		log:       logger.With(logger.String("component", "ts_filter")),
		pmtPIDs:   make(map[uint16]struct{}),
		videoPIDs: make(map[uint16]struct{}),
	}
}

// ReadPackets reads from the inner stream and filters whole packets in
// place. A leading partial packet is passed through untouched.
func (f *FilterStream) ReadPackets(p []byte) int {
	n := f.inner.ReadPackets(p)
	if n == 0 || f.disabled {
		return n
	}

	var nulled, rewritten int
	for off := n % constants.PacketSize; off < n; off += constants.PacketSize {
		pkt := p[off : off+constants.PacketSize]
		if pkt[0] != constants.SyncByte {
			f.disabled = true
			metrics.IncFilterPackets("disabled", 1)
			f.log.Warn("⚠️  Lost transport stream sync, filtering disabled",
				logger.Int64("position", f.inner.Position()))
			break
		}

		pid := mpegts.PID(pkt)
		switch {
		case isMember(f.videoPIDs, pid):
			copy(pkt, mpegts.NullPacket[:])
			nulled++
		case pid == constants.PATPID:
			f.parsePAT(pkt)
		case isMember(f.pmtPIDs, pid):
			rewritten += f.rewritePMT(pkt)
		}
	}

	metrics.IncFilterPackets("nulled", nulled)
	metrics.IncFilterPackets("tables_rewritten", rewritten)
	return n
}

func isMember(set map[uint16]struct{}, pid uint16) bool {
	_, ok := set[pid]
	return ok
}

// sectionStart returns the offset of the first section in a packet that
// starts a PSI payload.
func sectionStart(pkt []byte) (int, bool) {
	if !mpegts.PayloadUnitStart(pkt) {
		return 0, false
	}
	off, ok := mpegts.PayloadOffset(pkt)
	if !ok {
		return 0, false
	}
	off += 1 + int(pkt[off])
	return off, off < constants.PacketSize
}

// parsePAT records the PMT PID of every non-zero program.
func (f *FilterStream) parsePAT(pkt []byte) {
	off, ok := sectionStart(pkt)
	if !ok || off+3 > constants.PacketSize || pkt[off] != mpegts.TableIDPAT {
		return
	}
	end := min(off+3+mpegts.SectionLength(pkt, off)-4, constants.PacketSize)

	for entry := off + 8; entry+4 <= end; entry += 4 {
		program := binary.BigEndian.Uint16(pkt[entry:])
		pmtPID := binary.BigEndian.Uint16(pkt[entry+2:]) & 0x1FFF
		if program == 0 {
			continue
		}
		if !isMember(f.pmtPIDs, pmtPID) {
			f.pmtPIDs[pmtPID] = struct{}{}
			f.log.Debug("Found program",
				logger.Int("program", int(program)),
				logger.Int("pmt_pid", int(pmtPID)))
		}
	}
}

// rewritePMT disables video entries in every complete section of the packet
// and returns how many sections were rewritten.
func (f *FilterStream) rewritePMT(pkt []byte) int {
	off, ok := sectionStart(pkt)
	if !ok {
		return 0
	}

	rewritten := 0
	for off+3 <= constants.PacketSize && pkt[off] != mpegts.TableTerminator {
		end := off + 3 + mpegts.SectionLength(pkt, off)
		if end > constants.PacketSize {
			break
		}
		if pkt[off] == mpegts.TableIDPMT && f.disableVideo(pkt[off:end]) {
			crc := mpegts.CRC32(pkt[off : end-4])
			binary.BigEndian.PutUint32(pkt[end-4:end], crc)
			rewritten++
		}
		off = end
	}
	return rewritten
}

// disableVideo walks the elementary stream loop of one PMT section.
func (f *FilterStream) disableVideo(section []byte) bool {
	const headerLen = 12
	if len(section) < headerLen+4 {
		return false
	}
	loopEnd := len(section) - 4
	es := headerLen + int(binary.BigEndian.Uint16(section[10:])&0x0FFF)

	changed := false
	for es+5 <= loopEnd {
		streamType := section[es]
		pid := binary.BigEndian.Uint16(section[es+1:]) & 0x1FFF
		infoLen := int(binary.BigEndian.Uint16(section[es+3:]) & 0x0FFF)
		if es+5+infoLen > loopEnd {
			break
		}

		if mpegts.IsVideoStreamType(streamType) {
			if !isMember(f.videoPIDs, pid) {
				f.videoPIDs[pid] = struct{}{}
				f.log.Debug("Removing video stream",
					logger.Int("pid", int(pid)),
					logger.Int("stream_type", int(streamType)))
			}
			section[es] = mpegts.StreamTypeDisabled
			for i := es + 5; i < es+5+infoLen; i++ {
				section[i] = 0xFF
			}
			changed = true
		}
		es += 5 + infoLen
	}
	return changed
}

// Seek forwards to the inner stream.
func (f *FilterStream) Seek(offset int64, whence int) (int64, error) {
	return f.inner.Seek(offset, whence)
}

// Close closes the inner stream.
func (f *FilterStream) Close() {
	f.inner.Close()
}

func (f *FilterStream) CanSeek() bool     { return f.inner.CanSeek() }
func (f *FilterStream) Length() int64     { return f.inner.Length() }
func (f *FilterStream) Position() int64   { return f.inner.Position() }
func (f *FilterStream) MediaType() string { return f.inner.MediaType() }
func (f *FilterStream) IsRealtime() bool  { return f.inner.IsRealtime() }
