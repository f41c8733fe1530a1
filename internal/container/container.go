// Package container provides the dependency injection container for the stream tools.
package container

import (
	"fmt"
	"os"

	"github.com/attaebra/hdhr-stream/internal/config"
	"github.com/attaebra/hdhr-stream/internal/hdhomerun"
	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/media/stream"
	"github.com/attaebra/hdhr-stream/internal/utils"
)

// Container holds all application dependencies.
type Container struct {
	config *config.Config

	httpClient interfaces.Client
	newTuner   func(identity string) (interfaces.Tuner, error)
	selector   interfaces.Selector
}

// Option overrides a dependency, mostly for tests.
type Option func(*Container)

// WithHTTPClient replaces the streaming HTTP client.
func WithHTTPClient(client interfaces.Client) Option {
	return func(c *Container) { c.httpClient = client }
}

// WithTuners replaces the tuner factory and selector.
func WithTuners(newTuner func(string) (interfaces.Tuner, error), selector interfaces.Selector) Option {
	return func(c *Container) {
		c.newTuner = newTuner
		c.selector = selector
	}
}

// New creates a new dependency injection container with the provided configuration.
func New(cfg *config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{config: cfg}
	c.initializeLogging()
	c.initializeHTTPClient()
	c.initializeTuners()

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// initializeLogging sends logs to stderr so stdout stays free for stream data.
func (c *Container) initializeLogging() {
	logger.SetOutput(os.Stderr, c.config.LogFormat)
	logger.SetLevel(logger.LevelFromString(c.config.LogLevel))
	logger.Debug("Initialized logging",
		logger.String("level", c.config.LogLevel),
		logger.String("format", c.config.LogFormat))
}

// initializeHTTPClient creates the streaming HTTP client.
func (c *Container) initializeHTTPClient() {
	c.httpClient = utils.HTTPClient(c.config.ConnectTimeout, c.config.HeaderTimeout)
}

// initializeTuners sets up tuner handles and selection.
func (c *Container) initializeTuners() {
	c.newTuner = hdhomerun.Factory(hdhomerun.Options{ControlTimeout: c.config.ConnectTimeout})
	c.selector = hdhomerun.NewSelector()
	logger.Debug("Initialized tuner selection")
}

// OpenOptions returns stream options derived from the configuration.
func (c *Container) OpenOptions() stream.OpenOptions {
	return stream.OpenOptions{
		HTTP: stream.HTTPConfig{
			Client:       c.httpClient,
			BufferSize:   c.config.BufferSize,
			ReadMinCount: c.config.ReadMinCount,
			StallTimeout: c.config.StallTimeout,
			UserAgent:    c.config.UserAgent,
		},
		Device: stream.DeviceConfig{
			NewTuner:     c.newTuner,
			Selector:     c.selector,
			RecvInterval: c.config.TunerRecvInterval,
			RecvMaxWait:  c.config.TunerRecvMaxWait,
		},
		Radio: c.config.FilterRadio,
	}
}

// Open opens the first working source.
func (c *Container) Open(sources []stream.Source) (interfaces.Stream, error) {
	return stream.Open(sources, c.OpenOptions())
}

// SelectTunerHTTP returns the HTTP URL of a free candidate tuner.
func (c *Container) SelectTunerHTTP(candidates []stream.TunerCandidate) (string, error) {
	return stream.SelectTunerHTTP(candidates, c.OpenOptions().Device)
}

// Discover fetches a device description.
func (c *Container) Discover(host string) (*hdhomerun.DeviceInfo, error) {
	return hdhomerun.Discover(c.httpClient, host)
}

// GetConfig returns the configuration.
func (c *Container) GetConfig() *config.Config {
	return c.config
}
