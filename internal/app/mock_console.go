// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/pipeline"
	"github.com/relabs-tech/magnet_tracker/internal/sensors"
)

// RunMockConsole runs the whole pipeline in-process on the mock source and
// prints the states, starting a calibration right away. No broker needed.
func RunMockConsole(ctx context.Context, cfg *config.Config) error {
	printer := &consolePrinter{
		interval: time.Duration(cfg.ConsoleLogInterval) * time.Millisecond,
		print:    func(s string) { fmt.Println(s) },
	}
	t, err := NewTracker(cfg, pipeline.PublisherFunc(func(st pipeline.State) error {
		printer.handle(st, time.Now())
		return nil
	}))
	if err != nil {
		return err
	}

	t.Coordinator.StartCalibration()
	return t.Run(ctx, sensors.NewMockSource(mockOptions(cfg)), time.Duration(cfg.PollIntervalMS)*time.Millisecond)
}
