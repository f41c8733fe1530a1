// Package utils provides utility functions shared across the application.
package utils

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/attaebra/hdhr-stream/internal/logger"
)

// LogAndWrapError logs an error and returns a formatted error with the original wrapped.
// This function ensures consistent error handling and logging throughout the application.
func LogAndWrapError(err error, format string, args ...interface{}) error {
	if err != nil {
		logger.Error(fmt.Sprintf(format, args...),
			logger.ErrorField("error", err))
		return fmt.Errorf(format+": %w", append(args, err)...)
	}
	return nil
}

// IsConsumerGone reports whether a write error means the reading side went away.
func IsConsumerGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return contains(err.Error(),
		"connection reset by peer",
		"broken pipe",
		"use of closed network connection")
}

// contains checks if a string contains any of the provided substrings.
func contains(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if substr != "" && strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
