// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/magnet_tracker/internal/pipeline"
)

// Control actions accepted on the control topic and the web socket.
const (
	ActionStartCalibration = "start_calibration"
	ActionToggleRecording  = "toggle_recording"
)

// ControlMessage is the JSON payload of a control action.
type ControlMessage struct {
	Action string `json:"action"`
}

// DecodeControl parses and validates a control payload.
func DecodeControl(payload []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("control unmarshal: %w", err)
	}
	switch msg.Action {
	case ActionStartCalibration, ActionToggleRecording:
		return msg, nil
	}
	return ControlMessage{}, fmt.Errorf("unknown control action %q", msg.Action)
}

// connectMQTT connects a client and logs under the given component name.
func connectMQTT(component, broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("%s: MQTT connection lost: %v", component, err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	log.Printf("%s: connected to MQTT broker at %s", component, broker)
	return client, nil
}

func subscribe(component string, client mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	token := client.Subscribe(topic, 0, handler)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Printf("%s: subscribed to MQTT topic %s", component, topic)
	return nil
}

// statePublisher publishes pipeline states as retained JSON messages.
type statePublisher struct {
	client mqtt.Client
	topic  string
}

func (p statePublisher) Publish(st pipeline.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("state marshal: %w", err)
	}
	// Fatal states must reach the broker before the process exits.
	token := p.client.Publish(p.topic, 0, true, payload)
	if st.Fatal {
		token.WaitTimeout(2 * time.Second)
		return token.Error()
	}
	return nil
}
