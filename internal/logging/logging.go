// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging provides the Debug/Info/Warn/Err/Fatal level functions
// used throughout the pipeline, backed by logrus instead of raw fmt.Fprintf.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	return l
}

// SetQuiet raises the level filter so only warnings and errors are emitted,
// mirroring the `-q` flag accepted by the diff and fixup subcommands.
func SetQuiet(quiet bool) {
	if quiet {
		log.SetLevel(logrus.WarnLevel)
		return
	}
	log.SetLevel(logrus.DebugLevel)
}

func Debug(format string, args ...any) {
	log.Debugf(format, args...)
}

func Info(format string, args ...any) {
	log.Infof(format, args...)
}

func Warn(format string, args ...any) {
	log.Warnf(format, args...)
}

// Err logs format/args plus err's message, if err is non-nil, at error
// level, matching the LOG_ERR(err, format, args...) signature convention.
func Err(err error, format string, args ...any) {
	entry := log.WithFields(nil)
	if err != nil {
		entry = log.WithError(err)
	}
	entry.Errorf(format, args...)
}

// Fatal logs like Err then terminates the process. Reserved for conditions
// that cannot be expressed as a returned *command.Error, e.g. failures
// before argument parsing has produced a stage to return from.
func Fatal(err error, format string, args ...any) {
	Err(err, format, args...)
	os.Exit(1)
}
