// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pipeline routes samples through calibration, correction, earth
// field cancellation, detection and classification, and publishes the
// resulting state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/calibration"
	"github.com/relabs-tech/magnet_tracker/internal/classifier"
	"github.com/relabs-tech/magnet_tracker/internal/detector"
	"github.com/relabs-tech/magnet_tracker/internal/frame"
	"github.com/relabs-tech/magnet_tracker/internal/sensors"
	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

var (
	// ErrInvalidNumericInput marks a sample with a non-finite component or a
	// zero orientation quaternion. Such samples are dropped.
	ErrInvalidNumericInput = errors.New("invalid numeric input")
	// ErrRecordingUnavailable is returned by ToggleRecording when no recorder
	// is configured.
	ErrRecordingUnavailable = errors.New("recording not configured")
	// ErrStopped is returned by Process after a fatal error.
	ErrStopped = errors.New("pipeline stopped")
)

// Recorder stores raw samples while recording is on.
type Recorder interface {
	Toggle() (bool, error)
	Active() bool
	Record(sensors.Sample) error
}

// Options wires a Coordinator.
type Options struct {
	Controller *calibration.Controller
	Canceller  frame.Canceller
	// Detector defaults to a strict threshold at detector.DefaultThreshold.
	Detector detector.Detector
	// Classifier is invoked only for samples with a magnet present. nil
	// reports classifier.ErrClassifierUnavailable for every such sample.
	Classifier        classifier.Classifier
	ClassifierQueue   int
	ClassifierTimeout time.Duration
	Recorder          Recorder
	Publisher         Publisher
	Metrics           *Metrics
}

// Coordinator owns the published state. Process runs on the producer
// goroutine; classifier outcomes arrive on the dispatcher goroutine.
type Coordinator struct {
	ctrl       *calibration.Controller
	canceller  frame.Canceller
	det        detector.Detector
	dispatcher *classifier.Dispatcher
	rec        Recorder
	pub        Publisher
	m          *Metrics

	mu        sync.Mutex
	state     State
	seq       uint64
	resultSeq uint64 // seq of the sample behind the current classification
	lastPhase calibration.Phase
	stopped   bool
	recErrs   int
}

// NewCoordinator builds a coordinator. Call Run to start classification.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Detector == nil {
		opts.Detector = detector.NewThreshold(detector.DefaultThreshold)
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.Func(func(context.Context, vecmath.Vector3) (classifier.Result, error) {
			return classifier.Result{}, classifier.ErrClassifierUnavailable
		})
	}
	if opts.Publisher == nil {
		opts.Publisher = PublisherFunc(func(State) error { return nil })
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	c := &Coordinator{
		ctrl:      opts.Controller,
		canceller: opts.Canceller,
		det:       opts.Detector,
		rec:       opts.Recorder,
		pub:       opts.Publisher,
		m:         opts.Metrics,
	}
	c.dispatcher = classifier.NewDispatcher(opts.Classifier, opts.ClassifierQueue, opts.ClassifierTimeout, c.onOutcome)
	c.state.Classification = classificationOf(classifier.NoMagnet())
	c.lastPhase = c.ctrl.State().Phase()
	c.updateCalibrationLocked()
	c.state.Status = c.state.Calibration.Message
	return c
}

// Run runs the classifier worker until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	c.dispatcher.Run(ctx)
}

// Metrics returns the coordinator metrics.
func (c *Coordinator) Metrics() *Metrics {
	return c.m
}

// State returns a copy of the current published state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// validate returns the sample orientation normalized to unit length.
func validate(s sensors.Sample) (vecmath.Quaternion, error) {
	if !s.Raw.IsFinite() {
		return vecmath.Quaternion{}, fmt.Errorf("%w: raw field %v", ErrInvalidNumericInput, s.Raw)
	}
	if !s.Orientation.IsFinite() {
		return vecmath.Quaternion{}, fmt.Errorf("%w: orientation %v", ErrInvalidNumericInput, s.Orientation)
	}
	n := s.Orientation.Norm()
	if n < 1e-9 {
		return vecmath.Quaternion{}, fmt.Errorf("%w: zero orientation quaternion", ErrInvalidNumericInput)
	}
	return s.Orientation.Normalized(), nil
}

// Process handles one sample. While calibrating the sample only feeds the
// estimator. Uncalibrated samples are reported as raw passthrough. Calibrated
// samples are corrected, the earth field is removed, and presence is
// detected; present magnets are queued for classification.
func (c *Coordinator) Process(s sensors.Sample) error {
	q, err := validate(s)
	if err != nil {
		c.m.SamplesInvalid.Inc(1)
		c.m.SamplesDropped.Inc(1)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped {
			return ErrStopped
		}
		c.state.Status = "sample dropped: " + err.Error()
		c.publishLocked()
		return err
	}
	s.Orientation = q

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.m.SamplesDropped.Inc(1)
		return ErrStopped
	}
	c.mu.Unlock()

	c.m.SamplesAccepted.Inc(1)
	c.record(s)

	consumed := c.ctrl.Accept(calibration.Sample{Raw: s.Raw, Orientation: q})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.state.Seq = c.seq
	c.state.Time = s.Time
	c.state.Raw = s.Raw
	c.updateCalibrationLocked()

	if consumed {
		c.m.SamplesCalibration.Inc(1)
		c.publishLocked()
		return nil
	}

	p := c.ctrl.Store().Load()
	if !p.Calibrated {
		c.state.Corrected = vecmath.Vector3{}
		c.state.Field = vecmath.Vector3{}
		c.state.Magnitude = 0
		c.state.MagnetPresent = false
		c.state.Status = c.state.Calibration.Message
		c.publishLocked()
		return nil
	}

	corrected := calibration.Correct(s.Raw, p)
	field := c.canceller.Cancel(corrected, p.ReferenceField, q)
	magnitude := field.Norm()
	present := c.det.Detect(magnitude)

	c.state.Corrected = corrected
	c.state.Field = field
	c.state.Magnitude = magnitude
	c.state.MagnetPresent = present

	if present {
		c.m.DetectionsPresent.Inc(1)
		if !c.dispatcher.Submit(c.seq, field) {
			c.m.ClassifierDropped.Inc(1)
		}
	} else {
		c.resultSeq = c.seq
		c.state.Classification = classificationOf(classifier.NoMagnet())
		c.state.ClassificationError = ""
	}
	c.state.Status = presenceStatus(present)
	c.publishLocked()
	return nil
}

func presenceStatus(present bool) string {
	if present {
		return "magnet detected"
	}
	return "no magnet"
}

func (c *Coordinator) record(s sensors.Sample) {
	if c.rec == nil || !c.rec.Active() {
		return
	}
	if err := c.rec.Record(s); err != nil {
		c.recErrs++
		if c.recErrs == 1 || c.recErrs%100 == 0 {
			log.Printf("pipeline: recording error (%d so far): %v", c.recErrs, err)
		}
	}
}

// onOutcome merges a classifier outcome. Outcomes older than the current
// classification (or than a later "no magnet" sample) are discarded.
func (c *Coordinator) onOutcome(o classifier.Outcome) {
	c.m.ClassifierLatency.Update(o.Latency)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || o.Seq <= c.resultSeq {
		return
	}
	c.resultSeq = o.Seq
	if o.Err != nil {
		c.m.ClassifierErrors.Inc(1)
		c.state.ClassificationError = o.Err.Error()
		c.state.Status = "classification failed: " + o.Err.Error()
		c.publishLocked()
		return
	}
	c.state.Classification = classificationOf(o.Result)
	c.state.ClassificationError = ""
	c.state.Status = fmt.Sprintf("magnet detected: %s (%.0f%%)", o.Result.Label, o.Result.Confidence()*100)
	c.publishLocked()
}

// StartCalibration starts (or restarts) a calibration run.
func (c *Coordinator) StartCalibration() {
	c.ctrl.Start()
	if r, ok := c.det.(interface{ Reset() }); ok {
		r.Reset()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.resultSeq = c.seq
	c.state.Corrected = vecmath.Vector3{}
	c.state.Field = vecmath.Vector3{}
	c.state.Magnitude = 0
	c.state.MagnetPresent = false
	c.state.Classification = classificationOf(classifier.NoMagnet())
	c.state.ClassificationError = ""
	c.updateCalibrationLocked()
	c.publishLocked()
}

// ToggleRecording flips raw-data recording and returns the new setting.
func (c *Coordinator) ToggleRecording() (bool, error) {
	if c.rec == nil {
		return false, ErrRecordingUnavailable
	}
	on, err := c.rec.Toggle()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Recording = on
	if err != nil {
		c.state.Status = "recording: " + err.Error()
	} else if on {
		c.state.Status = "recording started"
	} else {
		c.state.Status = "recording stopped"
	}
	if !c.stopped {
		c.publishLocked()
	}
	return on, err
}

// Poll closes an expired calibration window and publishes progress while a
// run is active. Call it periodically so a run ends even without samples.
func (c *Coordinator) Poll() calibration.State {
	st, ended := c.ctrl.Poll()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return st
	}
	if ended || st.Phase() == calibration.PhaseCalibrating {
		c.updateCalibrationLocked()
		c.publishLocked()
	}
	return st
}

// Fail publishes a fatal state. No further states are published.
func (c *Coordinator) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.state.Fatal = true
	c.state.Status = "fatal: " + err.Error()
	c.publishLocked()
	c.stopped = true
}

// updateCalibrationLocked refreshes the calibration section. On a phase
// change the calibration message becomes the status.
func (c *Coordinator) updateCalibrationLocked() {
	st := c.ctrl.State()
	cs := CalibrationStatus{
		Phase:    st.Phase().String(),
		Progress: c.ctrl.Progress(),
		Params:   c.ctrl.Store().Load(),
	}
	switch v := st.(type) {
	case calibration.Idle:
		cs.Message = "not calibrated"
	case calibration.Calibrating:
		cs.Samples = v.Samples
		cs.Message = fmt.Sprintf("calibrating: rotate the device in all directions (%.0f%%)", cs.Progress)
	case calibration.Calibrated:
		cs.Samples = v.Params.Samples
		cs.Message = fmt.Sprintf("calibrated with %d samples (confidence %.0f%%)", v.Params.Samples, v.Params.Confidence)
	case calibration.Failed:
		cs.Message = "calibration failed: " + v.Reason.Error()
		if v.Params.Calibrated {
			cs.Message += " (keeping previous calibration)"
		}
	}
	c.state.Calibration = cs
	if p := st.Phase(); p != c.lastPhase || p == calibration.PhaseCalibrating {
		c.lastPhase = p
		c.state.Status = cs.Message
	}
}

func (c *Coordinator) publishLocked() {
	if err := c.pub.Publish(c.state.Clone()); err != nil {
		log.Printf("pipeline: publish error: %v", err)
	}
}
