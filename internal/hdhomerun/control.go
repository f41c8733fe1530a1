// Package hdhomerun talks to HDHomeRun tuner devices: the TCP get/set control
// protocol, tuner locking and tuning, and the UDP video socket the tuner
// streams into.
package hdhomerun

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/attaebra/hdhr-stream/internal/constants"
)

// Control protocol packet types and tags.
const (
	typeGetSetReq = 0x0004
	typeGetSetRpy = 0x0005

	tagGetSetName    = 0x03
	tagGetSetValue   = 0x04
	tagErrorMessage  = 0x05
	tagGetSetLockkey = 0x15

	maxPayload = 3074
)

// ErrMalformedPacket is returned for replies that fail framing or CRC checks.
var ErrMalformedPacket = errors.New("malformed control packet")

// DeviceError is an error message reported by the device.
type DeviceError struct {
	Name    string
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device rejected %s: %s", e.Name, e.Message)
}

// ControlClient is a connection to a device's control port. Requests are
// serialized; the connection is dialled lazily and re-dialled after errors.
type ControlClient struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewControlClient creates a client for host (an IP or hostname, optionally
// with a port).
func NewControlClient(host string, timeout time.Duration) *ControlClient {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(constants.ControlPort))
	}
	return &ControlClient{addr: addr, timeout: timeout}
}

// Get reads a device variable.
func (c *ControlClient) Get(name string) (string, error) {
	return c.roundTrip(name, nil, 0)
}

// Set writes a device variable, presenting lockkey when non-zero, and
// returns the value the device reports back.
func (c *ControlClient) Set(name, value string, lockkey uint32) (string, error) {
	return c.roundTrip(name, &value, lockkey)
}

// LocalIP returns the local address used to reach the device.
func (c *ControlClient) LocalIP() (net.IP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return nil, err
	}
	addr, ok := c.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address %v", c.conn.LocalAddr())
	}
	return addr.IP, nil
}

// Close drops the connection.
func (c *ControlClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *ControlClient) connect() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

func (c *ControlClient) roundTrip(name string, value *string, lockkey uint32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return "", err
	}

	req := encodeGetSet(name, value, lockkey)
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}

	rpy, err := c.exchange(req)
	if err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return "", fmt.Errorf("%s: %w", name, err)
	}

	if rpy.errMessage != "" {
		return "", &DeviceError{Name: name, Message: rpy.errMessage}
	}
	return rpy.value, nil
}

func (c *ControlClient) exchange(req []byte) (*getSetReply, error) {
	if _, err := c.conn.Write(req); err != nil {
		return nil, err
	}

	pktType, payload, err := readPacket(c.conn)
	if err != nil {
		return nil, err
	}
	if pktType != typeGetSetRpy {
		return nil, fmt.Errorf("%w: unexpected type 0x%04x", ErrMalformedPacket, pktType)
	}
	return decodeGetSet(payload)
}

// encodeGetSet frames a getset request: type, length, TLVs, CRC32 (LE).
func encodeGetSet(name string, value *string, lockkey uint32) []byte {
	var payload bytes.Buffer
	writeTLV(&payload, tagGetSetName, append([]byte(name), 0))
	if value != nil {
		writeTLV(&payload, tagGetSetValue, append([]byte(*value), 0))
	}
	if lockkey != 0 {
		var key [4]byte
		binary.BigEndian.PutUint32(key[:], lockkey)
		writeTLV(&payload, tagGetSetLockkey, key[:])
	}
	return framePacket(typeGetSetReq, payload.Bytes())
}

func framePacket(pktType uint16, payload []byte) []byte {
	pkt := make([]byte, 4, 4+len(payload)+4)
	binary.BigEndian.PutUint16(pkt[0:2], pktType)
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(payload)))
	pkt = append(pkt, payload...)
	return binary.LittleEndian.AppendUint32(pkt, crc32.ChecksumIEEE(pkt))
}

// writeTLV writes tag, a one or two byte variable length, then value.
func writeTLV(w *bytes.Buffer, tag byte, value []byte) {
	w.WriteByte(tag)
	n := len(value)
	if n <= 127 {
		w.WriteByte(byte(n))
	} else {
		w.WriteByte(byte(n&0x7F) | 0x80)
		w.WriteByte(byte(n >> 7))
	}
	w.Write(value)
}

// readPacket reads one framed packet and verifies its CRC.
func readPacket(r io.Reader) (uint16, []byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	pktType := binary.BigEndian.Uint16(header[0:2])
	length := int(binary.BigEndian.Uint16(header[2:4]))
	if length > maxPayload {
		return 0, nil, fmt.Errorf("%w: payload length %d", ErrMalformedPacket, length)
	}

	rest := make([]byte, length+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return 0, nil, err
	}
	payload := rest[:length]

	crc := crc32.NewIEEE()
	crc.Write(header[:])
	crc.Write(payload)
	if binary.LittleEndian.Uint32(rest[length:]) != crc.Sum32() {
		return 0, nil, fmt.Errorf("%w: CRC mismatch", ErrMalformedPacket)
	}
	return pktType, payload, nil
}

type tlv struct {
	tag   byte
	value []byte
}

func parseTLVs(payload []byte) ([]tlv, error) {
	var out []tlv
	for len(payload) > 0 {
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: truncated TLV", ErrMalformedPacket)
		}
		tag := payload[0]
		n := int(payload[1])
		payload = payload[2:]
		if n&0x80 != 0 {
			if len(payload) < 1 {
				return nil, fmt.Errorf("%w: truncated TLV length", ErrMalformedPacket)
			}
			n = n&0x7F | int(payload[0])<<7
			payload = payload[1:]
		}
		if n > len(payload) {
			return nil, fmt.Errorf("%w: TLV overruns packet", ErrMalformedPacket)
		}
		out = append(out, tlv{tag: tag, value: payload[:n]})
		payload = payload[n:]
	}
	return out, nil
}

type getSetReply struct {
	name       string
	value      string
	errMessage string
	lockkey    uint32
	hasValue   bool
}

func decodeGetSet(payload []byte) (*getSetReply, error) {
	tlvs, err := parseTLVs(payload)
	if err != nil {
		return nil, err
	}
	r := &getSetReply{}
	for _, t := range tlvs {
		switch t.tag {
		case tagGetSetName:
			r.name = cString(t.value)
		case tagGetSetValue:
			r.value = cString(t.value)
			r.hasValue = true
		case tagErrorMessage:
			r.errMessage = cString(t.value)
		case tagGetSetLockkey:
			if len(t.value) == 4 {
				r.lockkey = binary.BigEndian.Uint32(t.value)
			}
		}
	}
	return r, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
