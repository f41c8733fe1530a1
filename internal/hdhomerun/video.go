package hdhomerun

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/media/buffer"
)

const (
	rtpHeaderSize    = 12
	maxDatagramSize  = 65536
	rtpVersion       = 2
	defaultVideoSize = 2 * 1024 * 1024
)

// VideoSocket receives the tuner's UDP output into a ring buffer. A
// goroutine drains the socket; Recv hands out whole packets without blocking.
type VideoSocket struct {
	conn *net.UDPConn
	rb   *ringbuffer.RingBuffer

	scratch []byte
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// ListenVideo binds a UDP socket on ip with an ephemeral port.
func ListenVideo(ip net.IP, bufferSize int) (*VideoSocket, error) {
	if bufferSize <= 0 {
		bufferSize = defaultVideoSize
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, fmt.Errorf("listen for video: %w", err)
	}

	v := &VideoSocket{
		conn: conn,
		rb:   ringbuffer.New(bufferSize),
	}
	v.wg.Add(1)
	go v.receive()
	return v, nil
}

// Addr returns the bound address.
func (v *VideoSocket) Addr() *net.UDPAddr {
	return v.conn.LocalAddr().(*net.UDPAddr)
}

// Dropped returns how many datagrams were discarded because the buffer was full.
func (v *VideoSocket) Dropped() uint64 {
	return v.dropped.Load()
}

func (v *VideoSocket) receive() {
	defer v.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := v.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Warn("⚠️ Video socket receive failed", logger.ErrorField("error", err))
			}
			return
		}

		payload := StripRTP(buf[:n])
		if len(payload) == 0 {
			continue
		}
		// Whole datagrams only, so the buffer stays packet aligned.
		if v.rb.Free() < len(payload) {
			if v.dropped.Add(1) == 1 {
				logger.Warn("⚠️ Video buffer full, dropping datagrams")
			}
			continue
		}
		_, _ = v.rb.Write(payload)
	}
}

// Recv returns up to limit bytes, rounded down to whole packets. The slice is
// valid until the next call; nil means nothing is buffered yet.
func (v *VideoSocket) Recv(limit int) ([]byte, error) {
	n := buffer.AlignDown(min(limit, v.rb.Length()), constants.PacketSize)
	if n == 0 {
		return nil, nil
	}
	if cap(v.scratch) < n {
		v.scratch = make([]byte, n)
	}
	got, err := v.rb.Read(v.scratch[:n])
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return nil, err
	}
	return v.scratch[:got], nil
}

// Close stops the receiver and releases the socket.
func (v *VideoSocket) Close() error {
	err := v.conn.Close()
	v.wg.Wait()
	return err
}

// StripRTP returns the transport stream payload of a datagram. Raw transport
// stream datagrams are returned unchanged; anything else yields nil.
func StripRTP(pkt []byte) []byte {
	if len(pkt) > 0 && pkt[0] == constants.SyncByte {
		return pkt
	}
	if len(pkt) < rtpHeaderSize || pkt[0]>>6 != rtpVersion {
		return nil
	}

	end := len(pkt)
	if pkt[0]&0x20 != 0 {
		pad := int(pkt[end-1])
		if pad > end-rtpHeaderSize {
			return nil
		}
		end -= pad
	}

	off := rtpHeaderSize + 4*int(pkt[0]&0x0F)
	if pkt[0]&0x10 != 0 {
		if off+4 > end {
			return nil
		}
		off += 4 + 4*int(binary.BigEndian.Uint16(pkt[off+2:off+4]))
	}
	if off >= end {
		return nil
	}
	return pkt[off:end]
}
