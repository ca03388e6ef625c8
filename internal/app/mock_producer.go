// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/sensors"
)

// RunMockProducer publishes synthetic samples to the samples topic so a
// tracker with SOURCE=mqtt can run without hardware.
func RunMockProducer(ctx context.Context, cfg *config.Config) error {
	client, err := connectMQTT("producer", cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	src := sensors.NewMockSource(mockOptions(cfg))
	if err := src.Open(); err != nil {
		return err
	}
	defer src.Close()

	log.Printf("producer: publishing mock samples to %s at %.0f Hz", cfg.TopicSamples, cfg.SampleRateHz)
	var n int
	for {
		smp, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		payload, err := json.Marshal(smp)
		if err != nil {
			log.Printf("producer: json marshal error: %v", err)
			continue
		}
		if token := client.Publish(cfg.TopicSamples, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("producer: MQTT publish error: %v", token.Error())
			continue
		}
		n++
		if n%int(max(cfg.SampleRateHz*10, 1)) == 0 {
			log.Printf("producer: %d samples published, last raw=(%.2f, %.2f, %.2f)", n, smp.Raw.X, smp.Raw.Y, smp.Raw.Z)
		}
	}
}

// RunMockSerial writes synthetic samples as $MGFLD sentences to w, for
// feeding a serial loopback (e.g. socat pty pair) read by SOURCE=serial.
func RunMockSerial(ctx context.Context, cfg *config.Config, w io.Writer) error {
	src := sensors.NewMockSource(mockOptions(cfg))
	if err := src.Open(); err != nil {
		return err
	}
	defer src.Close()

	for {
		smp, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\r\n", sensors.FormatFLD("MG", smp)); err != nil {
			return fmt.Errorf("write sentence: %w", err)
		}
	}
}
