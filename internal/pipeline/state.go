// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pipeline

import (
	"encoding/json"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/calibration"
	"github.com/relabs-tech/magnet_tracker/internal/classifier"
	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// CalibrationStatus is the published view of the calibration controller.
type CalibrationStatus struct {
	Phase    string                 `json:"phase"`
	Progress float64                `json:"progress"`
	Samples  int                    `json:"samples"`
	Message  string                 `json:"message,omitempty"`
	Params   calibration.Parameters `json:"params"`
}

// Classification is the latest classifier result for a present magnet.
type Classification struct {
	Label         classifier.Label             `json:"label"`
	Confidence    float64                      `json:"confidence"`
	Probabilities map[classifier.Label]float64 `json:"probabilities,omitempty"`
}

func classificationOf(r classifier.Result) Classification {
	probs := make(map[classifier.Label]float64, len(r.Probabilities))
	for l, p := range r.Probabilities {
		probs[l] = p
	}
	return Classification{Label: r.Label, Confidence: r.Confidence(), Probabilities: probs}
}

// State is everything the UI side needs, published after every change.
type State struct {
	Seq         uint64            `json:"seq"`
	Time        time.Time         `json:"time"`
	Calibration CalibrationStatus `json:"calibration"`

	// Raw is the last accepted sample, reported even when uncalibrated.
	Raw vecmath.Vector3 `json:"raw"`
	// Corrected is the hard/soft iron corrected reading.
	Corrected vecmath.Vector3 `json:"corrected"`
	// Field is the corrected reading with the earth field removed; the
	// detector and classifier see this vector.
	Field         vecmath.Vector3 `json:"field"`
	Magnitude     float64         `json:"magnitude"`
	MagnetPresent bool            `json:"magnet_present"`

	Classification      Classification `json:"classification"`
	ClassificationError string         `json:"classification_error,omitempty"`

	Recording bool   `json:"recording"`
	Status    string `json:"status"`
	Fatal     bool   `json:"fatal"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	if s.Classification.Probabilities != nil {
		probs := make(map[classifier.Label]float64, len(s.Classification.Probabilities))
		for l, p := range s.Classification.Probabilities {
			probs[l] = p
		}
		s.Classification.Probabilities = probs
	}
	return s
}

// DecodeState parses a published state payload.
func DecodeState(payload []byte) (State, error) {
	var st State
	err := json.Unmarshal(payload, &st)
	return st, err
}

// Publisher receives every published state.
type Publisher interface {
	Publish(State) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(State) error

func (f PublisherFunc) Publish(s State) error { return f(s) }
