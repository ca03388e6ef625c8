// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultWindow is the length of one calibration recording window.
const DefaultWindow = 30 * time.Second

// Phase names the controller state for status reporting.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCalibrating
	PhaseCalibrated
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCalibrating:
		return "calibrating"
	case PhaseCalibrated:
		return "calibrated"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// State is one of Idle, Calibrating, Calibrated or Failed.
type State interface {
	Phase() Phase
}

// Idle is the initial state: no calibration has run yet.
type Idle struct{}

// Calibrating is an active recording window.
type Calibrating struct {
	StartedAt time.Time
	Samples   int
}

// Calibrated holds the parameters of the last successful run.
type Calibrated struct {
	Params Parameters
}

// Failed records why the last run failed. Params are the parameters that
// stayed in effect (the prior calibration, or the defaults).
type Failed struct {
	Reason error
	Params Parameters
}

func (Idle) Phase() Phase        { return PhaseIdle }
func (Calibrating) Phase() Phase { return PhaseCalibrating }
func (Calibrated) Phase() Phase  { return PhaseCalibrated }
func (Failed) Phase() Phase      { return PhaseFailed }

// Options configures a Controller.
type Options struct {
	Window     time.Duration
	MinSamples int
	// MaxSamples caps one run's buffer; see BufferCapacity. 0 disables it.
	MaxSamples int
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Controller runs the calibration state machine and owns the published
// Parameters snapshot.
type Controller struct {
	mu    sync.Mutex
	opts  Options
	store *Store
	est   *Estimator
	state State
	// prior is restored when a run fails.
	prior Parameters
}

// NewController returns a controller publishing into store. It starts in
// Calibrated when store already holds a calibrated snapshot, else Idle.
func NewController(store *Store, opts Options) *Controller {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		opts:  opts,
		store: store,
		est:   NewEstimator(opts.MinSamples, opts.MaxSamples),
		state: Idle{},
	}
	if p := store.Load(); p.Calibrated {
		c.state = Calibrated{Params: p}
	}
	return c
}

// Store returns the parameter store read by the correction path.
func (c *Controller) Store() *Store {
	return c.store
}

// Window returns the recording window length.
func (c *Controller) Window() time.Duration {
	return c.opts.Window
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a new run. Calibrated output stops immediately; the last
// good parameters are kept aside until the run ends. Calling Start during a
// run discards its samples and restarts the window.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cal, ok := c.state.(Calibrating); ok {
		log.Printf("calibration: restarting run (discarding %d samples)", cal.Samples)
	} else {
		c.prior = c.store.Load()
		log.Printf("calibration: starting %s run", c.opts.Window)
	}
	c.est.Begin()

	p := c.prior
	p.Calibrated = false
	c.store.Set(p)
	c.state = Calibrating{StartedAt: c.opts.Now()}
}

// Accept routes one sample into the running window. It reports whether the
// sample was consumed; false means no run is active (or the window just
// closed) and the caller should process the sample normally.
func (c *Controller) Accept(s Sample) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, ok := c.state.(Calibrating)
	if !ok {
		return false
	}
	if c.expired(cal) {
		c.finish()
		return false
	}
	if err := c.est.Accept(s); err != nil {
		c.fail(err)
		return true
	}
	cal.Samples = c.est.Len()
	c.state = cal
	return true
}

// Poll closes the running window once it has expired. It returns the state
// after the call and whether a run ended.
func (c *Controller) Poll() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, ok := c.state.(Calibrating)
	if !ok || !c.expired(cal) {
		return c.state, false
	}
	c.finish()
	return c.state, true
}

// Progress returns the run progress in percent.
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch st := c.state.(type) {
	case Calibrating:
		pct := float64(c.opts.Now().Sub(st.StartedAt)) / float64(c.opts.Window) * 100
		if pct < 0 {
			return 0
		}
		if pct > 100 {
			return 100
		}
		return pct
	case Calibrated:
		return 100
	}
	return 0
}

func (c *Controller) expired(cal Calibrating) bool {
	return c.opts.Now().Sub(cal.StartedAt) >= c.opts.Window
}

func (c *Controller) finish() {
	p, err := c.est.Finish()
	if err != nil {
		c.fail(err)
		return
	}
	p.At = c.opts.Now()
	c.store.Set(p)
	c.state = Calibrated{Params: p}
	log.Printf("calibration: done with %d samples, offset=(%.2f, %.2f, %.2f) scale=(%.3f, %.3f, %.3f) confidence=%.1f%%",
		p.Samples,
		p.HardIronOffset.X, p.HardIronOffset.Y, p.HardIronOffset.Z,
		p.SoftIronScale.X, p.SoftIronScale.Y, p.SoftIronScale.Z,
		p.Confidence)
}

func (c *Controller) fail(err error) {
	c.est.Begin()
	c.store.Set(c.prior)
	c.state = Failed{Reason: err, Params: c.prior}
	if errors.Is(err, ErrSampleOverflow) {
		log.Printf("calibration: aborted: %v", err)
		return
	}
	log.Printf("calibration: failed: %v", err)
}
