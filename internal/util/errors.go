// Package util provides small helpers shared across the privacy daemon.
package util

import (
	"fmt"
	"io"
	"log/slog"
)

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// SafeCloseFunc returns a function that closes c and logs a failure.
// Intended for defer.
func SafeCloseFunc(c io.Closer, what string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Debug("close failed", "what", what, "error", err)
		}
	}
}
