// Package kernel holds small helpers shared across actorkit's internal
// packages that don't belong to any single component.
package kernel

import (
	"log/slog"
	"os"
)

// fatalExit is a package variable rather than a direct os.Exit call, so a
// test can replace it and exercise Abort without killing the test binary.
var fatalExit = os.Exit

// Abort logs a process-fatal condition and terminates the process. It is the
// substitute for so_5's abort-on-fatal-error helper: a handful of invariant
// violations in the kernel (illegal dispatcher configuration, bind failures
// once a coop registration has started) have no safe recovery path.
func Abort(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(msg, args...)
	fatalExit(1)
}
