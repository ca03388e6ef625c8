// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logging directs the standard logger to stderr and, when a log file
// is configured, to a size-rotated file as well.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/relabs-tech/magnet_tracker/internal/config"
)

// Setup configures the standard logger from cfg. The returned closer must be
// called on exit; it is a no-op when no log file is configured.
func Setup(cfg *config.Config) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg == nil || cfg.LogFile == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
