package stream

import (
	"errors"
	"io"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/interfaces"
)

// memStream serves data from memory, at most chunk bytes per read.
type memStream struct {
	data   []byte
	pos    int
	chunk  int
	closed bool
	seeks  []int64
}

func newMemStream(data []byte, chunk int) *memStream {
	return &memStream{data: data, chunk: chunk}
}

func (m *memStream) ReadPackets(p []byte) int {
	n := min(len(p), m.chunk, len(m.data)-m.pos)
	copy(p, m.data[m.pos:m.pos+n])
	m.pos += n
	return n
}

func (m *memStream) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return SeekUnsupported, ErrSeekUnsupported
	}
	m.seeks = append(m.seeks, offset)
	m.pos = int(offset)
	return offset, nil
}

func (m *memStream) Close()            { m.closed = true }
func (m *memStream) CanSeek() bool     { return true }
func (m *memStream) Length() int64     { return int64(len(m.data)) }
func (m *memStream) Position() int64   { return int64(m.pos) }
func (m *memStream) MediaType() string { return constants.ContentTypeStream }
func (m *memStream) IsRealtime() bool  { return false }

// fakeTuner records the calls made on it.
type fakeTuner struct {
	name  string
	busy  bool
	queue [][]byte

	lockErr    error
	channelErr error
	programErr error
	startErr   error
	recvErr    error

	calls   []string
	recvMax []int
	locked  bool
	closed  bool
}

func (f *fakeTuner) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeTuner) Name() string { return f.name }

func (f *fakeTuner) Available() (bool, error) {
	f.record("available")
	return !f.busy && !f.locked, nil
}

func (f *fakeTuner) Lock() error {
	f.record("lock")
	if f.lockErr != nil {
		return f.lockErr
	}
	f.locked = true
	return nil
}

func (f *fakeTuner) Unlock() error {
	f.record("unlock")
	f.locked = false
	return nil
}

func (f *fakeTuner) SetChannel(channel string) error {
	f.record("channel=" + channel)
	return f.channelErr
}

func (f *fakeTuner) SetProgram(program string) error {
	f.record("program=" + program)
	return f.programErr
}

func (f *fakeTuner) ClearChannel() error {
	f.record("clear")
	return nil
}

func (f *fakeTuner) StreamStart() error {
	f.record("start")
	return f.startErr
}

func (f *fakeTuner) Recv(limit int) ([]byte, error) {
	f.recvMax = append(f.recvMax, limit)
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	data := f.queue[0]
	f.queue = f.queue[1:]
	return data, nil
}

func (f *fakeTuner) StreamStop() { f.record("stop") }

func (f *fakeTuner) Close() error {
	f.record("close")
	f.closed = true
	return nil
}

// fakeTuners returns a factory handing out the given tuners by name.
func fakeTuners(tuners ...*fakeTuner) func(string) (interfaces.Tuner, error) {
	byName := make(map[string]*fakeTuner, len(tuners))
	for _, t := range tuners {
		byName[t.name] = t
	}
	return func(identity string) (interfaces.Tuner, error) {
		t, ok := byName[identity]
		if !ok {
			return nil, errors.New("unreachable device")
		}
		return t, nil
	}
}
