package backfill

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/meterbridge/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging initializes the global logger, copying output to logFile
// when one is given. The returned func closes the file.
func SetupLogging(logFile, format string) (func() error, error) {
	if logFile == "" {
		if err := logger.Init(logger.WithFormat(format)); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return func() error { return nil }, nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.Init(logger.WithWriter(io.MultiWriter(os.Stdout, file)), logger.WithFormat(format)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("log_file", logFile))
	return file.Close, nil
}

// ShowHelp prints usage information for the import tool.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `meterbridge history import
==========================

Imports finalized hourly consumption for an explicit day range into the
statistics store, continuing the cumulative sum from what the store
already holds. Days already imported are skipped; the run stops before the
first day that is not fully measured. Configuration is read the same way
as the daemon (METERBRIDGE_* environment, .env, METERBRIDGE_CONFIG).

Usage:
  import-history -from YYYY-MM-DD [-to YYYY-MM-DD] [options]

Options:
  -from string
        First day to import (required)
  -to string
        Last day to import (default: today, capped at the cutoff)
  -log string
        Also write log output to this file
  -help
        Show this help message

Examples:
  import-history -from 2023-01-01
  import-history -from 2023-01-01 -to 2023-12-31 -log import.log
`)
}
