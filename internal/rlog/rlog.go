// Package rlog configures the process-wide logger. The daemon logs
// structured, leveled output the way every other long-running service in
// this codebase's lineage does, via charmbracelet/log; it never uses
// log/slog or the bare "log" package.
package rlog

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New builds a logger reading its level from GAMMARELAY_LOG ("debug",
// "info", "warn", "error"; default "info"). Output goes to stderr so
// stdout stays free for "watch"'s formatted lines.
func New() *log.Logger {
	lvl := log.InfoLevel
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("GAMMARELAY_LOG"))); v != "" {
		if parsed, err := log.ParseLevel(v); err == nil {
			lvl = parsed
		}
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: true,
		Level:           lvl,
	})
	return logger
}
