// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package recorder writes raw samples to CSV files while recording is on.
package recorder

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/sensors"
)

var header = []string{"time", "mx", "my", "mz", "qw", "qx", "qy", "qz"}

// Recorder writes one CSV file per recording session under Dir.
type Recorder struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
	rows int
}

// New returns a stopped recorder writing under dir.
func New(dir string) *Recorder {
	return &Recorder{dir: dir, now: time.Now}
}

// Active reports whether a session is open.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file != nil
}

// Path returns the file of the open session, or "".
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Toggle starts a new session or closes the open one, and returns whether
// recording is now on.
func (r *Recorder) Toggle() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return false, r.closeLocked()
	}
	if err := r.openLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Recorder) openLocked() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	name := filepath.Join(r.dir, fmt.Sprintf("magnet_raw_%s.csv", r.now().Format("20060102_150405.000")))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create record file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	r.file, r.w, r.rows = f, w, 0
	log.Printf("recorder: recording to %s", name)
	return nil
}

func (r *Recorder) closeLocked() error {
	r.w.Flush()
	err := r.w.Error()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	log.Printf("recorder: closed %s (%d samples)", r.file.Name(), r.rows)
	r.file, r.w = nil, nil
	return err
}

// Record appends one sample to the open session. It is a no-op when
// recording is off.
func (r *Recorder) Record(s sensors.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	r.rows++
	return r.w.Write([]string{
		s.Time.UTC().Format(time.RFC3339Nano),
		f(s.Raw.X), f(s.Raw.Y), f(s.Raw.Z),
		f(s.Orientation.W), f(s.Orientation.X), f(s.Orientation.Y), f(s.Orientation.Z),
	})
}

// Close ends the open session, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.closeLocked()
}
