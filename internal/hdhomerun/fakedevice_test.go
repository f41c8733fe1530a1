package hdhomerun

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/attaebra/hdhr-stream/internal/testutil"
)

// fakeDevice serves the control protocol on a loopback port and, once a
// target is set, streams RTP-wrapped transport packets to it.
type fakeDevice struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	vars     map[string]string
	lockkeys map[int]uint32
	senders  map[string]chan struct{}
	conns    []net.Conn
	sets     []string

	wg sync.WaitGroup
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDevice{
		t:        t,
		ln:       ln,
		vars:     map[string]string{},
		lockkeys: map[int]uint32{},
		senders:  map[string]chan struct{}{},
	}
	d.wg.Add(1)
	go d.serve()
	t.Cleanup(d.close)
	return d
}

// identity returns the "host-N" identity for tuner n of this device.
func (d *fakeDevice) identity(n int) string {
	return d.ln.Addr().String() + "-" + strconv.Itoa(n)
}

func (d *fakeDevice) close() {
	_ = d.ln.Close()
	d.mu.Lock()
	for name, stop := range d.senders {
		close(stop)
		delete(d.senders, name)
	}
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.conns = nil
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *fakeDevice) value(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.vars[name]; ok {
		return v
	}
	return "none"
}

func (d *fakeDevice) setLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sets...)
}

func (d *fakeDevice) serve() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()
		d.wg.Add(1)
		go d.handle(conn)
	}
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	for {
		pktType, payload, err := readPacket(conn)
		if err != nil || pktType != typeGetSetReq {
			return
		}
		req, err := decodeGetSet(payload)
		if err != nil {
			return
		}

		var reply []byte
		if req.hasValue {
			reply = d.set(req)
		} else {
			reply = encodeReply(req.name, d.value(req.name), "")
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}

func tunerIndex(name string) (int, string) {
	// "/tunerN/var"
	parts := strings.SplitN(strings.TrimPrefix(name, "/tuner"), "/", 2)
	if len(parts) != 2 {
		return -1, name
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return -1, name
	}
	return n, parts[1]
}

func (d *fakeDevice) set(req *getSetReply) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	index, variable := tunerIndex(req.name)
	held := d.lockkeys[index]
	if held != 0 && req.lockkey != held {
		return encodeReply(req.name, "", "ERROR: resource locked by 10.0.0.9")
	}

	d.sets = append(d.sets, req.name+"="+req.value)

	switch variable {
	case "lockkey":
		if req.value == "none" {
			delete(d.lockkeys, index)
			d.vars[req.name] = "none"
		} else {
			key, err := strconv.ParseUint(req.value, 10, 32)
			if err != nil {
				return encodeReply(req.name, "", "ERROR: invalid lockkey")
			}
			d.lockkeys[index] = uint32(key)
			d.vars[req.name] = "127.0.0.1"
		}
	case "target":
		if stop, ok := d.senders[req.name]; ok {
			close(stop)
			delete(d.senders, req.name)
		}
		d.vars[req.name] = req.value
		if addr, ok := strings.CutPrefix(req.value, "rtp://"); ok {
			stop := make(chan struct{})
			d.senders[req.name] = stop
			d.wg.Add(1)
			go d.send(addr, stop)
		}
	default:
		d.vars[req.name] = req.value
	}
	return encodeReply(req.name, d.vars[req.name], "")
}

// send streams datagrams of seven packets with a 12 byte RTP header.
func (d *fakeDevice) send(addr string, stop chan struct{}) {
	defer d.wg.Done()

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	var seq uint16
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		dgram := make([]byte, rtpHeaderSize, rtpHeaderSize+7*188)
		dgram[0] = 0x80
		dgram[1] = 33
		binary.BigEndian.PutUint16(dgram[2:4], seq)
		for i := 0; i < 7; i++ {
			dgram = append(dgram, testutil.PayloadPacket(0x100, byte(seq)&0x0F, byte(i))...)
		}
		seq++
		if _, err := conn.Write(dgram); err != nil {
			return
		}
	}
}

func encodeReply(name, value, errMessage string) []byte {
	var p []byte
	p = append(p, tagGetSetName, byte(len(name)+1))
	p = append(p, name...)
	p = append(p, 0)
	if errMessage != "" {
		p = append(p, tagErrorMessage, byte(len(errMessage)+1))
		p = append(p, errMessage...)
		p = append(p, 0)
	} else {
		p = append(p, tagGetSetValue, byte(len(value)+1))
		p = append(p, value...)
		p = append(p, 0)
	}
	return framePacket(typeGetSetRpy, p)
}
