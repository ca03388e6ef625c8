// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package classifier

import (
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// Model is the on-disk description of a CentroidClassifier:
//
//	temperature: 0.2
//	centroids:
//	  up:    {x: 0, y: 0, z: 1}
//	  down:  {x: 0, y: 0, z: -1}
//	  ...
type Model struct {
	Temperature float64                    `yaml:"temperature"`
	Centroids   map[string]vecmath.Vector3 `yaml:"centroids"`
}

// DefaultModel points each label along one device axis.
func DefaultModel() Model {
	return Model{
		Temperature: 0.2,
		Centroids: map[string]vecmath.Vector3{
			Up.String():    vecmath.Vec(0, 0, 1),
			Down.String():  vecmath.Vec(0, 0, -1),
			Left.String():  vecmath.Vec(-1, 0, 0),
			Right.String(): vecmath.Vec(1, 0, 0),
			Front.String(): vecmath.Vec(0, 1, 0),
			Back.String():  vecmath.Vec(0, -1, 0),
		},
	}
}

// CentroidClassifier scores the field direction against one unit centroid
// per label and turns the cosine similarities into probabilities with a
// softmax.
type CentroidClassifier struct {
	temperature float64
	labels      []Label
	centroids   []vecmath.Vector3
}

// LoadModel reads a YAML model file.
func LoadModel(path string) (Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("%w: read model: %v", ErrClassifierUnavailable, err)
	}
	var m Model
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Model{}, fmt.Errorf("%w: parse model %s: %v", ErrClassifierUnavailable, path, err)
	}
	return m, nil
}

// NewCentroid builds a classifier from m.
func NewCentroid(m Model) (*CentroidClassifier, error) {
	if m.Temperature <= 0 {
		return nil, fmt.Errorf("%w: temperature must be > 0, got %v", ErrClassifierUnavailable, m.Temperature)
	}
	if len(m.Centroids) == 0 {
		return nil, fmt.Errorf("%w: model has no centroids", ErrClassifierUnavailable)
	}
	c := &CentroidClassifier{temperature: m.Temperature}
	// iterate Labels for a stable order
	for _, l := range Labels {
		v, ok := m.Centroids[l.String()]
		if !ok {
			continue
		}
		n := v.Norm()
		if n == 0 || !v.IsFinite() {
			return nil, fmt.Errorf("%w: centroid %q is not a usable direction", ErrClassifierUnavailable, l)
		}
		c.labels = append(c.labels, l)
		c.centroids = append(c.centroids, v.Scale(1/n))
	}
	for name := range m.Centroids {
		if l, err := ParseLabel(name); err != nil || l == None {
			return nil, fmt.Errorf("%w: model label %q is not a position", ErrClassifierUnavailable, name)
		}
	}
	return c, nil
}

// OpenCentroid loads the model at path, or DefaultModel when path is empty.
func OpenCentroid(path string) (*CentroidClassifier, error) {
	m := DefaultModel()
	if path != "" {
		var err error
		if m, err = LoadModel(path); err != nil {
			return nil, err
		}
	}
	return NewCentroid(m)
}

// Classify implements Classifier.
func (c *CentroidClassifier) Classify(ctx context.Context, field vecmath.Vector3) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassificationFailed, err)
	}
	n := field.Norm()
	if !field.IsFinite() || n == 0 {
		return Result{}, fmt.Errorf("%w: field %+v has no direction", ErrClassificationFailed, field)
	}
	dir := field.Scale(1 / n)

	scores := make([]float64, len(c.centroids))
	best := math.Inf(-1)
	for i, cv := range c.centroids {
		scores[i] = dir.Dot(cv) / c.temperature
		best = math.Max(best, scores[i])
	}
	sum := 0.0
	for i := range scores {
		scores[i] = math.Exp(scores[i] - best)
		sum += scores[i]
	}

	res := Result{Probabilities: make(map[Label]float64, len(c.labels))}
	top := -1.0
	for i, l := range c.labels {
		p := scores[i] / sum
		res.Probabilities[l] = p
		if p > top {
			top = p
			res.Label = l
		}
	}
	return res, nil
}
