// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import (
	"os"

	"github.com/btcsuite/btclog"
)

// LogType indicates the type of logging specified by the build flag.
type LogType byte

const (
	// LogTypeNone indicates no logging.
	LogTypeNone LogType = iota

	// LogTypeStdOut all logging is written directly to stdout.
	LogTypeStdOut

	// LogTypeDefault logs to both stdout and the daemon's rotating log
	// file.
	LogTypeDefault
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// NewSubLogger constructs a new subsystem logger. Production builds and the
// default logging type hand the subsystem to genSubLogger, which is nil for
// library packages that have not been wired to a backend yet. The stdlog
// build writes straight to stdout at LogLevel so unit tests can be read
// without a daemon.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if Deployment == Development && LoggingType == LogTypeStdOut {
		logger := btclog.NewBackend(os.Stdout).Logger(subsystem)

		level, _ := btclog.LevelFromString(LogLevel)
		logger.SetLevel(level)

		return logger
	}

	if LoggingType != LogTypeNone && genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return btclog.Disabled
}
