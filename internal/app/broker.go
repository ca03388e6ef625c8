// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/relabs-tech/magnet_tracker/internal/config"
)

// NewBroker returns an embedded MQTT broker listening on addr that accepts
// every client. Serve starts it without blocking.
func NewBroker(addr string) (*mochi.Server, error) {
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Capabilities: mochi.NewDefaultServerCapabilities(),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("broker auth hook: %w", err)
	}
	err := server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: addr,
	}))
	if err != nil {
		return nil, fmt.Errorf("broker listener %s: %w", addr, err)
	}
	return server, nil
}

// RunBroker runs an embedded broker for setups without a system broker,
// until ctx is done.
func RunBroker(ctx context.Context, cfg *config.Config) error {
	server, err := NewBroker(cfg.BrokerListen)
	if err != nil {
		return err
	}
	if err := server.Serve(); err != nil {
		return fmt.Errorf("broker serve: %w", err)
	}
	log.Printf("broker: listening on %s", cfg.BrokerListen)

	<-ctx.Done()
	log.Println("broker: shutting down")
	return server.Close()
}
