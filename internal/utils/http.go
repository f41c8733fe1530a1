// Package utils provides utility functions shared across the application.
package utils

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
)

// ClientWrapper wraps http.Client to implement our interfaces.Client interface.
type ClientWrapper struct {
	*http.Client
}

// Ensure ClientWrapper implements the Client interface.
var _ interfaces.Client = (*ClientWrapper)(nil)

// HTTPClient creates a streaming HTTP client. There is no overall request
// timeout because stream bodies are unbounded; connectTimeout bounds the dial
// and headerTimeout bounds the wait for response headers.
func HTTPClient(connectTimeout, headerTimeout time.Duration) *ClientWrapper {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     60 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 15 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 500 * time.Millisecond,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
	}

	logger.Debug("🌐 Created HTTP client",
		logger.Duration("connect_timeout", connectTimeout),
		logger.Duration("header_timeout", headerTimeout))
	return &ClientWrapper{Client: &http.Client{Transport: transport}}
}

// CloseWithLogging closes an io.Closer with logging.
func CloseWithLogging(closer io.Closer, description string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		logger.Warn("⚠️  Error closing resource",
			logger.String("description", description),
			logger.ErrorField("error", err))
	} else {
		logger.Debug("✅ Successfully closed resource",
			logger.String("description", description))
	}
}

// TimeOperation times an operation and logs its duration.
func TimeOperation(description string) func() {
	start := time.Now()
	logger.Debug("⏱️  Starting operation",
		logger.String("operation", description))

	return func() {
		elapsed := time.Since(start)
		logger.Debug("✅ Completed operation",
			logger.String("operation", description),
			logger.Duration("elapsed", elapsed))
	}
}
