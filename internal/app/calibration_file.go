// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/calibration"
	"github.com/relabs-tech/magnet_tracker/internal/pipeline"
)

// CalibrationFile is the on-disk form of a calibration result.
type CalibrationFile struct {
	Version int                    `json:"version"`
	Saved   time.Time              `json:"saved"`
	Params  calibration.Parameters `json:"params"`
}

// SaveCalibration writes p to path atomically (temp file + rename).
func SaveCalibration(path string, p calibration.Parameters) error {
	data, err := json.MarshalIndent(CalibrationFile{Version: 1, Saved: time.Now(), Params: p}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create calibration dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

// LoadCalibration reads a file written by SaveCalibration. A missing file
// yields the default (uncalibrated) parameters and no error.
func LoadCalibration(path string) (calibration.Parameters, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return calibration.DefaultParameters(), nil
	}
	if err != nil {
		return calibration.DefaultParameters(), fmt.Errorf("failed to read calibration file: %w", err)
	}
	var f CalibrationFile
	if err := json.Unmarshal(data, &f); err != nil {
		return calibration.DefaultParameters(), fmt.Errorf("failed to parse calibration file %s: %w", path, err)
	}
	p := f.Params
	if !p.HardIronOffset.IsFinite() || !p.SoftIronScale.IsFinite() || !p.ReferenceField.IsFinite() ||
		p.SoftIronScale.X <= 0 || p.SoftIronScale.Y <= 0 || p.SoftIronScale.Z <= 0 {
		return calibration.DefaultParameters(), fmt.Errorf("calibration file %s holds invalid parameters", path)
	}
	return p, nil
}

// persistingPublisher saves every newly completed calibration and forwards
// the state. Publish runs under the pipeline lock, so the file is written on
// its own goroutine.
type persistingPublisher struct {
	next pipeline.Publisher
	path string
	save func(string, calibration.Parameters) error // SaveCalibration when nil

	mu    sync.Mutex
	saved time.Time

	writeMu sync.Mutex
	written time.Time
}

func (p *persistingPublisher) Publish(st pipeline.State) error {
	params := st.Calibration.Params
	if p.path != "" && params.Calibrated && st.Calibration.Phase == calibration.PhaseCalibrated.String() {
		p.mu.Lock()
		if !params.At.Equal(p.saved) {
			p.saved = params.At
			go p.write(params)
		}
		p.mu.Unlock()
	}
	return p.next.Publish(st)
}

// write stores params unless a newer calibration was written meanwhile.
func (p *persistingPublisher) write(params calibration.Parameters) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if !p.written.IsZero() && params.At.Before(p.written) {
		return
	}
	save := p.save
	if save == nil {
		save = SaveCalibration
	}
	if err := save(p.path, params); err != nil {
		log.Printf("tracker: %v", err)
		return
	}
	p.written = params.At
	log.Printf("tracker: calibration saved to %s", p.path)
}
