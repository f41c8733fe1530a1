package stream

import (
	"bytes"
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attaebra/hdhr-stream/internal/testutil"
)

// liveStream is a real-time memStream that counts empty reads.
type liveStream struct {
	*memStream
	emptyReads int
}

func (l *liveStream) IsRealtime() bool { return true }

func (l *liveStream) ReadPackets(p []byte) int {
	n := l.memStream.ReadPackets(p)
	if n == 0 {
		l.emptyReads++
	}
	return n
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestCopy(t *testing.T) {
	data := testutil.Sequential(188 * 1000)
	var out bytes.Buffer

	n, err := Copy(context.Background(), &out, newMemStream(data, 188*64), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, out.Bytes())
}

func TestCopyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	n, err := Copy(ctx, &out, newMemStream(testutil.Sequential(188*10), 188), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestCopyConsumerGone(t *testing.T) {
	n, err := Copy(context.Background(), failingWriter{err: syscall.EPIPE}, newMemStream(testutil.Sequential(188), 188), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)

	boom := errors.New("disk full")
	_, err = Copy(context.Background(), failingWriter{err: boom}, newMemStream(testutil.Sequential(188), 188), nil)
	assert.ErrorIs(t, err, boom)
}

func TestCopyLiveStreamToleratesEmptyReads(t *testing.T) {
	live := &liveStream{memStream: newMemStream(testutil.Sequential(188*3), 188)}
	var out bytes.Buffer

	n, err := Copy(context.Background(), &out, live, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(188*3), n)
	assert.Equal(t, maxEmptyReads, live.emptyReads)
}
