// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package classifier

import (
	"context"
	"time"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// Outcome is delivered once per classified request.
type Outcome struct {
	Seq     uint64
	Field   vecmath.Vector3
	Result  Result
	Err     error
	Latency time.Duration
}

type request struct {
	seq   uint64
	field vecmath.Vector3
}

// Dispatcher runs the classifier on one worker goroutine so a slow model
// never blocks sample ingestion. Requests wait in a bounded queue; when it is
// full the newest request is dropped. With a single worker, outcomes are
// delivered in submission order.
type Dispatcher struct {
	c       Classifier
	timeout time.Duration
	queue   chan request
	deliver func(Outcome)
}

// NewDispatcher returns a dispatcher with a queue of the given capacity
// (minimum 1). timeout bounds each Classify call; 0 means no bound.
func NewDispatcher(c Classifier, capacity int, timeout time.Duration, deliver func(Outcome)) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	return &Dispatcher{
		c:       c,
		timeout: timeout,
		queue:   make(chan request, capacity),
		deliver: deliver,
	}
}

// Submit queues field for classification. It never blocks and reports
// false when the request was dropped because the queue is full.
func (d *Dispatcher) Submit(seq uint64, field vecmath.Vector3) bool {
	select {
	case d.queue <- request{seq: seq, field: field}:
		return true
	default:
		return false
	}
}

// Run processes requests until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.queue:
			d.deliver(d.classify(ctx, req))
		}
	}
}

func (d *Dispatcher) classify(ctx context.Context, req request) Outcome {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := d.c.Classify(ctx, req.field)
	return Outcome{
		Seq:     req.seq,
		Field:   req.field,
		Result:  res,
		Err:     err,
		Latency: time.Since(start),
	}
}
