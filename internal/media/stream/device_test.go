package stream

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/hdhomerun"
	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/testutil"
)

func testDeviceConfig(tuners ...*fakeTuner) DeviceConfig {
	return DeviceConfig{
		NewTuner:     fakeTuners(tuners...),
		Selector:     hdhomerun.NewSelector(),
		RecvInterval: time.Millisecond,
		RecvMaxWait:  5 * time.Millisecond,
	}
}

func TestDeviceStreamSelectsFreeTunerAndTunes(t *testing.T) {
	busy := &fakeTuner{name: "10.0.0.5-0", busy: true}
	free := &fakeTuner{name: "10.0.0.5-1", queue: [][]byte{nil, testutil.Sequential(376)}}

	s, err := NewDeviceStream([]TunerCandidate{
		{Identity: busy.name, Channel: "8", Program: "3"},
		{Identity: free.name, Channel: "auto:177000000", Program: "4"},
	}, testDeviceConfig(busy, free))
	require.NoError(t, err)

	assert.Equal(t, free.name, s.Tuner())
	assert.Equal(t, []string{"available", "lock", "channel=auto:177000000", "program=4", "start"}, free.calls)
	assert.Equal(t, []string{"available", "close"}, busy.calls)

	buf := make([]byte, 1000)
	n := s.ReadPackets(buf)
	assert.Equal(t, 376, n)
	assert.Equal(t, testutil.Sequential(376), buf[:n])
	assert.Equal(t, []int{940, 940}, free.recvMax)
	assert.Equal(t, int64(376), s.Position())

	free.calls = nil
	s.Close()
	s.Close()
	assert.Equal(t, []string{"stop", "clear", "unlock", "close"}, free.calls)
	assert.False(t, free.locked)
	assert.Zero(t, s.ReadPackets(buf))
}

func TestDeviceStreamReadAlignment(t *testing.T) {
	tuner := &fakeTuner{name: "t-0", queue: [][]byte{testutil.Sequential(376)}}
	s, err := NewDeviceStream([]TunerCandidate{{Identity: "t-0", Channel: "5"}}, testDeviceConfig(tuner))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"available", "lock", "channel=5", "start"}, tuner.calls, "empty program is not set")

	assert.Zero(t, s.ReadPackets(make([]byte, 100)))
	assert.Empty(t, tuner.recvMax, "sub-packet reads never touch the tuner")

	assert.Equal(t, 376, s.ReadPackets(make([]byte, 400)))
	assert.Equal(t, []int{376}, tuner.recvMax)
}

func TestDeviceStreamReadGivesUpAfterMaxWait(t *testing.T) {
	tuner := &fakeTuner{name: "t-0"}
	s, err := NewDeviceStream([]TunerCandidate{{Identity: "t-0", Channel: "5"}}, testDeviceConfig(tuner))
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	assert.Zero(t, s.ReadPackets(make([]byte, 188*7)))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Len(t, tuner.recvMax, 6)

	tuner.recvErr = errors.New("socket closed")
	assert.Zero(t, s.ReadPackets(make([]byte, 188)))
}

func TestDeviceStreamReleasesTunerOnTuneFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeTuner)
		is    error
	}{
		{"channel", func(f *fakeTuner) { f.channelErr = errors.New("ERROR: invalid channel") }, ErrTuneRejected},
		{"program", func(f *fakeTuner) { f.programErr = errors.New("ERROR: invalid program") }, ErrTuneRejected},
		{"stream start", func(f *fakeTuner) { f.startErr = errors.New("ERROR: target") }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuner := &fakeTuner{name: "t-0"}
			tt.setup(tuner)

			_, err := NewDeviceStream([]TunerCandidate{{Identity: "t-0", Channel: "5", Program: "1"}}, testDeviceConfig(tuner))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.False(t, tuner.locked)
			assert.True(t, tuner.closed)
			assert.Contains(t, tuner.calls, "unlock")
			assert.Contains(t, tuner.calls, "clear")
		})
	}
}

func TestDeviceStreamNoFreeTuner(t *testing.T) {
	a := &fakeTuner{name: "t-0", busy: true}
	b := &fakeTuner{name: "t-1", lockErr: errors.New("ERROR: resource locked")}

	_, err := NewDeviceStream([]TunerCandidate{
		{Identity: "t-0", Channel: "5"},
		{Identity: "t-1", Channel: "5"},
		{Identity: "t-9", Channel: "5"},
	}, testDeviceConfig(a, b))
	assert.ErrorIs(t, err, ErrNoTunerAvailable)
	assert.ErrorIs(t, err, hdhomerun.ErrNoFreeTuner)
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	_, err = NewDeviceStream(nil, testDeviceConfig())
	assert.ErrorIs(t, err, ErrNoTunerAvailable)
}

// foreignSelector locks and returns a tuner that was never a candidate.
type foreignSelector struct{ tuner *fakeTuner }

func (f foreignSelector) ChooseAndLock([]interfaces.Tuner) (interfaces.Tuner, error) {
	_ = f.tuner.Lock()
	return f.tuner, nil
}

func TestDeviceStreamUnknownTuner(t *testing.T) {
	candidate := &fakeTuner{name: "t-0"}
	stranger := &fakeTuner{name: "other-3"}

	cfg := testDeviceConfig(candidate)
	cfg.Selector = foreignSelector{tuner: stranger}

	_, err := NewDeviceStream([]TunerCandidate{{Identity: "t-0", Channel: "5"}}, cfg)
	assert.ErrorIs(t, err, ErrUnknownTuner)
	assert.False(t, stranger.locked)
	assert.True(t, stranger.closed)
	assert.True(t, candidate.closed)
}

func TestDeviceStreamIsLiveOnly(t *testing.T) {
	tuner := &fakeTuner{name: "t-0"}
	s, err := NewDeviceStream([]TunerCandidate{{Identity: "t-0", Channel: "5"}}, testDeviceConfig(tuner))
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.CanSeek())
	assert.True(t, s.IsRealtime())
	assert.Equal(t, constants.UnknownLength, s.Length())
	assert.Equal(t, constants.ContentTypeStream, s.MediaType())

	pos, err := s.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrSeekUnsupported)
	assert.Equal(t, SeekUnsupported, pos)
}
