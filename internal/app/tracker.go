// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/relabs-tech/magnet_tracker/internal/calibration"
	"github.com/relabs-tech/magnet_tracker/internal/classifier"
	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/detector"
	"github.com/relabs-tech/magnet_tracker/internal/frame"
	"github.com/relabs-tech/magnet_tracker/internal/pipeline"
	"github.com/relabs-tech/magnet_tracker/internal/recorder"
	"github.com/relabs-tech/magnet_tracker/internal/sensors"
	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// NewSource builds the sample source selected by cfg.Source.
func NewSource(cfg *config.Config) (sensors.Source, error) {
	switch cfg.Source {
	case "mock", "":
		return sensors.NewMockSource(mockOptions(cfg)), nil
	case "mqtt":
		return sensors.NewMQTTSource(sensors.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientIDTracker + "-samples",
			Topic:    cfg.TopicSamples,
			Buffer:   int(cfg.SampleRateHz),
		}), nil
	case "serial":
		return sensors.NewSerialSource(sensors.SerialOptions{
			Port:     cfg.SerialPort,
			BaudRate: uint(cfg.SerialBaudRate),
		}), nil
	case "hmc5983":
		return sensors.NewHMCSource(hmcOptions(cfg)), nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}

func hmcOptions(cfg *config.Config) sensors.HMCOptions {
	m := cfg.HMCMount
	return sensors.HMCOptions{
		Bus:        cfg.HMCI2CBus,
		Addr:       cfg.HMCI2CAddr,
		ODRHz:      cfg.HMCODRHz,
		AvgSamples: cfg.HMCAvgSamples,
		GainCode:   cfg.HMCGainCode,
		RateHz:     cfg.SampleRateHz,
		Mount:      vecmath.Quaternion{W: m[0], X: m[1], Y: m[2], Z: m[3]}.Normalized(),
	}
}

// mockOptions paces the mock at the configured rate and keeps its magnet
// away until a calibration started at t=0 has closed.
func mockOptions(cfg *config.Config) sensors.MockOptions {
	opts := sensors.DefaultMockOptions()
	opts.RateHz = cfg.SampleRateHz
	opts.SimRateHz = cfg.SampleRateHz
	opts.MagnetDelay = cfg.CalibrationWindow() + 10*time.Second
	return opts
}

// newDetector returns the strict threshold detector, debounced when
// HYSTERESIS_SAMPLES is set.
func newDetector(cfg *config.Config) detector.Detector {
	var d detector.Detector = detector.NewThreshold(cfg.MagnetThresholdUT)
	if cfg.HysteresisSamples > 0 {
		d = detector.NewHysteresis(d, cfg.HysteresisSamples)
	}
	return d
}

// newClassifier opens the configured model. A model that cannot be loaded
// is not fatal: every classification then reports the load error.
func newClassifier(cfg *config.Config) classifier.Classifier {
	c, err := classifier.OpenCentroid(cfg.ClassifierModel)
	if err != nil {
		log.Printf("tracker: classifier unavailable: %v", err)
		return classifier.Func(func(context.Context, vecmath.Vector3) (classifier.Result, error) {
			return classifier.Result{}, err
		})
	}
	return c
}

// Read error handling of Tracker.Run.
const (
	DefaultMaxReadErrors  = 50
	DefaultReadRetryDelay = 10 * time.Millisecond
	maxReadRetryDelay     = time.Second
)

// Tracker is the assembled pipeline without its transport.
type Tracker struct {
	Coordinator *pipeline.Coordinator
	Controller  *calibration.Controller
	Recorder    *recorder.Recorder
	Metrics     *pipeline.Metrics

	// MaxReadErrors consecutive read errors make the source unavailable.
	MaxReadErrors int
	// ReadRetryDelay is the first backoff after a read error; it doubles
	// per consecutive error up to one second.
	ReadRetryDelay time.Duration
}

// NewTracker assembles calibration, detection, classification and recording
// from cfg, publishing into pub.
func NewTracker(cfg *config.Config, pub pipeline.Publisher) (*Tracker, error) {
	policy, err := frame.ParsePolicy(cfg.EarthFieldCancellation)
	if err != nil {
		return nil, err
	}

	params := calibration.DefaultParameters()
	if cfg.CalibrationFile != "" {
		params, err = LoadCalibration(cfg.CalibrationFile)
		if err != nil {
			log.Printf("tracker: %v (starting uncalibrated)", err)
		} else if params.Calibrated {
			log.Printf("tracker: loaded calibration from %s (%d samples, confidence %.1f%%)",
				cfg.CalibrationFile, params.Samples, params.Confidence)
		}
	}

	window := cfg.CalibrationWindow()
	ctrl := calibration.NewController(calibration.NewStore(params), calibration.Options{
		Window:     window,
		MinSamples: cfg.CalibrationMinSamples,
		MaxSamples: calibration.BufferCapacity(window, cfg.SampleRateHz, cfg.CalibrationBufferFactor),
	})

	rec := recorder.New(cfg.RecordDir)
	m := pipeline.NewMetrics(gometrics.NewRegistry())
	coord := pipeline.NewCoordinator(pipeline.Options{
		Controller:        ctrl,
		Canceller:         frame.NewCanceller(policy),
		Detector:          newDetector(cfg),
		Classifier:        newClassifier(cfg),
		ClassifierQueue:   cfg.ClassifierQueue,
		ClassifierTimeout: cfg.ClassifierTimeout(),
		Recorder:          rec,
		Publisher:         &persistingPublisher{next: pub, path: cfg.CalibrationFile, saved: params.At},
		Metrics:           m,
	})
	return &Tracker{
		Coordinator:    coord,
		Controller:     ctrl,
		Recorder:       rec,
		Metrics:        m,
		MaxReadErrors:  DefaultMaxReadErrors,
		ReadRetryDelay: DefaultReadRetryDelay,
	}, nil
}

// HandleControl applies one control action.
func (t *Tracker) HandleControl(msg ControlMessage) {
	switch msg.Action {
	case ActionStartCalibration:
		log.Println("tracker: calibration requested")
		t.Coordinator.StartCalibration()
	case ActionToggleRecording:
		on, err := t.Coordinator.ToggleRecording()
		if err != nil {
			log.Printf("tracker: toggle recording: %v", err)
			return
		}
		log.Printf("tracker: recording %v", on)
	}
}

// Run feeds samples from src into the pipeline until ctx is done or the
// source ends. A source that cannot be opened, reports ErrSensorUnavailable
// or fails MaxReadErrors reads in a row is fatal: a fatal state is published
// and the error returned. Other read errors are retried with backoff.
func (t *Tracker) Run(ctx context.Context, src sensors.Source, pollInterval time.Duration) error {
	if err := src.Open(); err != nil {
		t.Coordinator.Fail(err)
		return err
	}
	defer src.Close()
	defer t.Recorder.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go t.Coordinator.Run(ctx)

	if pollInterval > 0 {
		go func() {
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					t.Coordinator.Poll()
				}
			}
		}()
	}

	var readErrs, invalid int
	for {
		smp, err := src.Next(ctx)
		switch {
		case err == nil:
			readErrs = 0
		case errors.Is(err, io.EOF):
			log.Println("tracker: sample source ended")
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, sensors.ErrSensorUnavailable):
			t.Coordinator.Fail(err)
			return err
		default:
			readErrs++
			log.Printf("tracker: sample read error (%d in a row): %v", readErrs, err)
			if t.MaxReadErrors > 0 && readErrs >= t.MaxReadErrors {
				err = fmt.Errorf("%w: %d consecutive read errors, last: %v", sensors.ErrSensorUnavailable, readErrs, err)
				t.Coordinator.Fail(err)
				return err
			}
			if !sleepCtx(ctx, t.retryDelay(readErrs)) {
				return nil
			}
			continue
		}

		if err := t.Coordinator.Process(smp); err != nil {
			if errors.Is(err, pipeline.ErrStopped) {
				return err
			}
			invalid++
			if invalid == 1 || invalid%100 == 0 {
				log.Printf("tracker: %v (%d so far)", err, invalid)
			}
		}
	}
}

func (t *Tracker) retryDelay(consecutive int) time.Duration {
	d := t.ReadRetryDelay
	for i := 1; i < consecutive && d < maxReadRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxReadRetryDelay)
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunTracker runs the core process: sample source, pipeline, MQTT state
// publication and control subscription.
func RunTracker(ctx context.Context, cfg *config.Config) error {
	client, err := connectMQTT("tracker", cfg.MQTTBroker, cfg.MQTTClientIDTracker)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	t, err := NewTracker(cfg, statePublisher{client: client, topic: cfg.TopicState})
	if err != nil {
		return err
	}

	err = subscribe("tracker", client, cfg.TopicControl, func(_ mqtt.Client, msg mqtt.Message) {
		ctl, err := DecodeControl(msg.Payload())
		if err != nil {
			log.Printf("tracker: %v", err)
			return
		}
		t.HandleControl(ctl)
	})
	if err != nil {
		return err
	}

	if cfg.MetricsLogIntervalMS > 0 {
		go gometrics.Log(t.Metrics.Registry, time.Duration(cfg.MetricsLogIntervalMS)*time.Millisecond, log.Default())
	}

	src, err := NewSource(cfg)
	if err != nil {
		return err
	}
	log.Printf("tracker: source=%s window=%s threshold=%.1fµT cancellation=%s",
		cfg.Source, cfg.CalibrationWindow(), cfg.MagnetThresholdUT, cfg.EarthFieldCancellation)

	return t.Run(ctx, src, time.Duration(cfg.PollIntervalMS)*time.Millisecond)
}
