// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures an MQTTSource.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	// Buffer is the number of decoded samples waiting for Next. When full,
	// newly arriving samples are dropped.
	Buffer int
}

// MQTTSource receives JSON samples published by a phone or producer on an
// MQTT topic.
type MQTTSource struct {
	opts    MQTTOptions
	client  mqtt.Client
	ch      chan Sample
	dropped atomic.Int64
	bad     atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewMQTTSource returns an unopened MQTT sample source.
func NewMQTTSource(opts MQTTOptions) *MQTTSource {
	if opts.Buffer < 1 {
		opts.Buffer = 64
	}
	return &MQTTSource{
		opts: opts,
		ch:   make(chan Sample, opts.Buffer),
		done: make(chan struct{}),
	}
}

// Open connects to the broker and subscribes to the sample topic.
func (s *MQTTSource) Open() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetConnectTimeout(5 * time.Second)

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: mqtt connect %s: %v", ErrSensorUnavailable, s.opts.Broker, token.Error())
	}
	log.Printf("sensors: connected to MQTT broker at %s", s.opts.Broker)

	token := s.client.Subscribe(s.opts.Topic, 0, s.onMessage)
	token.Wait()
	if token.Error() != nil {
		s.client.Disconnect(250)
		return fmt.Errorf("%w: subscribe %s: %v", ErrSensorUnavailable, s.opts.Topic, token.Error())
	}
	log.Printf("sensors: subscribed to MQTT topic %s", s.opts.Topic)
	return nil
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	smp, err := DecodeSample(msg.Payload())
	if err != nil {
		if s.bad.Add(1) == 1 {
			log.Printf("sensors: sample unmarshal error: %v", err)
		}
		return
	}
	select {
	case s.ch <- smp:
	default:
		s.dropped.Add(1)
	}
}

// DecodeSample parses one JSON sample payload. A missing time is stamped
// with the arrival time.
func DecodeSample(payload []byte) (Sample, error) {
	var smp Sample
	if err := json.Unmarshal(payload, &smp); err != nil {
		return Sample{}, err
	}
	if smp.Time.IsZero() {
		smp.Time = time.Now()
	}
	return smp, nil
}

// Next returns the next received sample.
func (s *MQTTSource) Next(ctx context.Context) (Sample, error) {
	select {
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case <-s.done:
		return Sample{}, io.EOF
	case smp := <-s.ch:
		return smp, nil
	}
}

// Dropped is the number of samples discarded because the buffer was full.
func (s *MQTTSource) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes and disconnects.
func (s *MQTTSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.client != nil && s.client.IsConnected() {
			s.client.Unsubscribe(s.opts.Topic).Wait()
			s.client.Disconnect(250)
		}
	})
	return nil
}
