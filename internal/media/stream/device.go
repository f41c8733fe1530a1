package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/hdhomerun"
	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/media/buffer"
	"github.com/attaebra/hdhr-stream/internal/metrics"
	"github.com/attaebra/hdhr-stream/internal/utils"
)

// TunerCandidate is one tuner a device stream may use, with the tuning to
// apply when it is chosen.
type TunerCandidate struct {
	// Identity is "<host>-<tuner>", e.g. "10.0.0.5-1".
	Identity string
	// Channel is a channel or frequency spec, optionally with a modulation
	// prefix ("auto:177000000").
	Channel string
	// Program is the program filter; empty leaves it unset.
	Program string
}

// DeviceConfig configures tuner selection and receive pacing.
type DeviceConfig struct {
	// NewTuner creates a tuner handle. Nil uses hdhomerun.NewTuner.
	NewTuner func(identity string) (interfaces.Tuner, error)
	// Selector chooses and locks a tuner. Nil uses hdhomerun.Selector.
	Selector interfaces.Selector

	RecvInterval time.Duration
	RecvMaxWait  time.Duration
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.NewTuner == nil {
		c.NewTuner = hdhomerun.Factory(hdhomerun.Options{})
	}
	if c.Selector == nil {
		c.Selector = hdhomerun.NewSelector()
	}
	if c.RecvInterval <= 0 {
		c.RecvInterval = constants.DefaultTunerRecvInterval
	}
	if c.RecvMaxWait <= 0 {
		c.RecvMaxWait = constants.DefaultTunerRecvMaxWait
	}
	return c
}

// DeviceStream is a live stream received directly from a locked tuner.
type DeviceStream struct {
	cfg       DeviceConfig
	tuner     interfaces.Tuner
	candidate TunerCandidate
	log       *logger.Logger

	position int64
	closed   bool
}

// Ensure DeviceStream implements the Stream interface.
var _ interfaces.Stream = (*DeviceStream)(nil)

// NewDeviceStream locks the first free candidate tuner, tunes it and starts
// streaming. The tuner lock is held until Close.
func NewDeviceStream(candidates []TunerCandidate, cfg DeviceConfig) (*DeviceStream, error) {
	start := time.Now()
	s, err := newDeviceStream(candidates, cfg.withDefaults())
	metrics.ObserveStreamOpen(metrics.KindDevice, err, time.Since(start))
	return s, err
}

func newDeviceStream(candidates []TunerCandidate, cfg DeviceConfig) (*DeviceStream, error) {
	tuner, candidate, err := selectTuner(candidates, cfg)
	if err != nil {
		return nil, err
	}

	s := &DeviceStream{
		cfg:       cfg,
		tuner:     tuner,
		candidate: candidate,
		log: logger.With(
			logger.String("stream_id", uuid.NewString()),
			logger.String("kind", metrics.KindDevice),
			logger.String("tuner", candidate.Identity)),
	}

	if err := tuner.SetChannel(candidate.Channel); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: channel %q: %w", ErrTuneRejected, candidate.Channel, err)
	}
	if candidate.Program != "" {
		if err := tuner.SetProgram(candidate.Program); err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: program %q: %w", ErrTuneRejected, candidate.Program, err)
		}
	}
	if err := tuner.StreamStart(); err != nil {
		s.Close()
		return nil, utils.LogAndWrapError(err, "failed to start stream on %s", candidate.Identity)
	}

	s.log.Info("📺 Tuner stream open",
		logger.String("channel", candidate.Channel),
		logger.String("program", candidate.Program))
	return s, nil
}

// selectTuner builds handles for the candidates, lets the selector lock one
// and closes the rest. The returned tuner is locked.
func selectTuner(candidates []TunerCandidate, cfg DeviceConfig) (interfaces.Tuner, TunerCandidate, error) {
	tuners := make([]interfaces.Tuner, 0, len(candidates))
	for _, c := range candidates {
		t, err := cfg.NewTuner(c.Identity)
		if err != nil {
			logger.Warn("⚠️  Skipping tuner candidate",
				logger.String("tuner", c.Identity),
				logger.ErrorField("error", err))
			continue
		}
		tuners = append(tuners, t)
	}
	closeOthers := func(keep interfaces.Tuner) {
		for _, t := range tuners {
			if t != keep {
				utils.CloseWithLogging(t, "tuner "+t.Name())
			}
		}
	}

	if len(tuners) == 0 {
		return nil, TunerCandidate{}, ErrNoTunerAvailable
	}

	chosen, err := cfg.Selector.ChooseAndLock(tuners)
	if err != nil {
		closeOthers(nil)
		return nil, TunerCandidate{}, fmt.Errorf("%w: %w", ErrNoTunerAvailable, err)
	}
	closeOthers(chosen)

	for _, c := range candidates {
		if strings.EqualFold(c.Identity, chosen.Name()) {
			return chosen, c, nil
		}
	}

	releaseTuner(chosen)
	return nil, TunerCandidate{}, fmt.Errorf("%w: %q", ErrUnknownTuner, chosen.Name())
}

// releaseTuner unlocks and closes a tuner, logging failures.
func releaseTuner(t interfaces.Tuner) {
	if err := t.Unlock(); err != nil {
		logger.Warn("⚠️  Failed to release tuner lock",
			logger.String("tuner", t.Name()),
			logger.ErrorField("error", err))
	}
	utils.CloseWithLogging(t, "tuner "+t.Name())
}

// ReadPackets returns whatever whole packets the tuner has delivered, waiting
// up to the configured budget for the first of them. Zero means nothing
// arrived.
func (s *DeviceStream) ReadPackets(p []byte) int {
	if s.closed {
		return 0
	}
	count := buffer.AlignDown(len(p), constants.PacketSize)
	if count == 0 {
		return 0
	}

	var waited time.Duration
	for {
		data, err := s.tuner.Recv(count)
		if err != nil {
			s.log.Warn("⚠️  Tuner receive failed", logger.ErrorField("error", err))
			return 0
		}
		if len(data) > 0 {
			n := copy(p[:count], data)
			s.position += int64(n)
			metrics.AddStreamBytes(metrics.KindDevice, n)
			return n
		}
		if waited >= s.cfg.RecvMaxWait {
			s.log.Debug("No tuner data", logger.Duration("waited", waited))
			return 0
		}
		time.Sleep(s.cfg.RecvInterval)
		waited += s.cfg.RecvInterval
	}
}

// Seek is not supported on a live broadcast.
func (s *DeviceStream) Seek(offset int64, whence int) (int64, error) {
	metrics.IncSeek("unsupported")
	return SeekUnsupported, ErrSeekUnsupported
}

// Close stops the tuner stream, clears its channel and releases the lock.
func (s *DeviceStream) Close() {
	if s.closed {
		return
	}
	s.closed = true

	s.tuner.StreamStop()
	if err := s.tuner.ClearChannel(); err != nil {
		s.log.Warn("⚠️  Failed to clear tuner channel", logger.ErrorField("error", err))
	}
	releaseTuner(s.tuner)
	s.log.Debug("🔌 Tuner stream closed", logger.Int64("position", s.position))
}

func (s *DeviceStream) CanSeek() bool     { return false }
func (s *DeviceStream) Length() int64     { return constants.UnknownLength }
func (s *DeviceStream) Position() int64   { return s.position }
func (s *DeviceStream) MediaType() string { return constants.ContentTypeStream }
func (s *DeviceStream) IsRealtime() bool  { return true }

// Tuner returns the identity of the tuner in use.
func (s *DeviceStream) Tuner() string {
	return s.candidate.Identity
}
