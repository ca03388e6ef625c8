// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/magnet_tracker/internal/app"
	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/logging"
)

func main() {
	configPath := flag.String("config", "magnet_config.txt", "path to configuration file")
	flag.Parse()

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	closer := logging.Setup(cfg)
	defer closer.Close()

	log.Println("starting magnet tracker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunTracker(ctx, cfg); err != nil {
		log.Printf("fatal: %v", err)
		stop()
		closer.Close()
		os.Exit(1)
	}
}
