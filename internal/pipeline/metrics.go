// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pipeline

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics are the pipeline counters, registered under fixed names.
type Metrics struct {
	Registry gometrics.Registry

	SamplesAccepted    gometrics.Counter
	SamplesInvalid     gometrics.Counter
	SamplesCalibration gometrics.Counter
	SamplesDropped     gometrics.Counter
	DetectionsPresent  gometrics.Counter
	ClassifierDropped  gometrics.Counter
	ClassifierErrors   gometrics.Counter
	ClassifierLatency  gometrics.Timer
}

// NewMetrics registers the pipeline metrics in r (a fresh registry when nil).
func NewMetrics(r gometrics.Registry) *Metrics {
	if r == nil {
		r = gometrics.NewRegistry()
	}
	return &Metrics{
		Registry:           r,
		SamplesAccepted:    gometrics.NewRegisteredCounter("samples.accepted", r),
		SamplesInvalid:     gometrics.NewRegisteredCounter("samples.invalid", r),
		SamplesCalibration: gometrics.NewRegisteredCounter("samples.calibration", r),
		SamplesDropped:     gometrics.NewRegisteredCounter("samples.dropped", r),
		DetectionsPresent:  gometrics.NewRegisteredCounter("detections.present", r),
		ClassifierDropped:  gometrics.NewRegisteredCounter("classifier.dropped", r),
		ClassifierErrors:   gometrics.NewRegisteredCounter("classifier.errors", r),
		ClassifierLatency:  gometrics.NewRegisteredTimer("classifier.latency", r),
	}
}
