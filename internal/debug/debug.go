package debug

import (
	"context"
	"fmt"
	"time"

	"github.com/property-etl/internal/logger"
)

// DebugHeader marks the start of a debug section if debugging is enabled
func DebugHeader(ctx context.Context, enabled bool) {
	if enabled {
		logger.Debug(ctx, "=== DEBUG START ===")
	}
}

// DebugFooter marks the end of a debug section if debugging is enabled
func DebugFooter(ctx context.Context, enabled bool) {
	if enabled {
		logger.Debug(ctx, "=== DEBUG END ===")
	}
}

// DebugOutput logs a formatted debug message if debugging is enabled
func DebugOutput(ctx context.Context, enabled bool, format string, args ...any) {
	if enabled {
		logger.Debug(ctx, fmt.Sprintf(format, args...))
	}
}

// DebugTiming measures an operation and logs its duration when the returned
// func is called. Disabled timing costs nothing.
func DebugTiming(ctx context.Context, enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	logger.Debug(ctx, "starting", "operation", operation)

	return func() {
		logger.Debug(ctx, "completed", "operation", operation, "took", time.Since(start))
	}
}
