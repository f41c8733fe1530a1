package stream

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/hdhomerun"
	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
)

// Source is one way of reaching a stream: an HTTP URL (a storage device
// recording or a tuner's HTTP endpoint) or a list of tuner candidates to
// receive from directly.
type Source struct {
	URL    string
	Tuners []TunerCandidate
}

func (s Source) String() string {
	if s.URL != "" {
		return s.URL
	}
	ids := make([]string, len(s.Tuners))
	for i, c := range s.Tuners {
		ids[i] = c.Identity
	}
	return "tuners[" + strings.Join(ids, ",") + "]"
}

// OpenOptions configures Open.
type OpenOptions struct {
	HTTP   HTTPConfig
	Device DeviceConfig

	// Radio wraps the opened stream in a FilterStream.
	Radio bool
}

// Open tries each source in order and returns the first that opens. When all
// fail the error matches ErrNoSources and every individual failure.
func Open(sources []Source, opts OpenOptions) (interfaces.Stream, error) {
	errs := []error{ErrNoSources}
	for i, src := range sources {
		s, err := openSource(src, opts)
		if err != nil {
			logger.Warn("⚠️  Stream source failed",
				logger.Int("attempt", i+1),
				logger.String("source", src.String()),
				logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", src, err))
			continue
		}

		logger.Info("✅ Stream source opened",
			logger.Int("attempt", i+1),
			logger.String("source", src.String()),
			logger.Bool("radio", opts.Radio))
		if opts.Radio {
			return NewFilterStream(s), nil
		}
		return s, nil
	}
	return nil, errors.Join(errs...)
}

func openSource(src Source, opts OpenOptions) (interfaces.Stream, error) {
	switch {
	case src.URL != "":
		return NewHTTPStream(src.URL, opts.HTTP)
	case len(src.Tuners) > 0:
		return NewDeviceStream(src.Tuners, opts.Device)
	default:
		return nil, errors.New("empty source")
	}
}

// TunerHTTPURL returns the device's HTTP streaming URL for a tuner, channel
// and optional program. Any modulation prefix on channel is dropped.
func TunerHTTPURL(host string, tuner int, channel, program string) string {
	if i := strings.LastIndexByte(channel, ':'); i >= 0 {
		channel = channel[i+1:]
	}
	path := fmt.Sprintf("/tuner%d/ch%s", tuner, channel)
	if program != "" {
		path += "-" + program
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(constants.HTTPStreamPort)) + path
}

// SelectTunerHTTP picks a free tuner among candidates and returns its HTTP
// streaming URL. The lock is released before returning, so another client
// may take the tuner before the URL is requested.
func SelectTunerHTTP(candidates []TunerCandidate, cfg DeviceConfig) (string, error) {
	tuner, candidate, err := selectTuner(candidates, cfg.withDefaults())
	if err != nil {
		return "", err
	}
	defer releaseTuner(tuner)

	host, index, err := hdhomerun.ParseIdentity(candidate.Identity)
	if err != nil {
		return "", err
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return TunerHTTPURL(host, index, candidate.Channel, candidate.Program), nil
}
