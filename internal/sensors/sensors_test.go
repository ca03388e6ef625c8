// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

func TestFLDFormatParse(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := Sample{
		Raw:         vecmath.Vec(12.5, -40.25, 3),
		Orientation: vecmath.Quaternion{W: 0.5, X: 0.5, Y: -0.5, Z: 0.5},
	}
	line := FormatFLD("MG", in)
	assert.True(t, strings.HasPrefix(line, "$MGFLD,"))

	out, err := ParseFLD(line+"\r\n", at)
	require.NoError(t, err)
	assert.Equal(t, in.Raw, out.Raw)
	assert.Equal(t, in.Orientation, out.Orientation)
	assert.Equal(t, at, out.Time)
}

func TestFLDRejectsBadChecksum(t *testing.T) {
	line := FormatFLD("MG", Sample{Raw: vecmath.Vec(1, 2, 3), Orientation: vecmath.Identity()})
	corrupt := strings.Replace(line, ",1,", ",7,", 1)
	require.NotEqual(t, line, corrupt)

	_, err := ParseFLD(corrupt, time.Now())
	assert.Error(t, err)
}

func TestFLDRejectsOtherSentences(t *testing.T) {
	_, err := ParseFLD("$GPGLL,3723.2475,N,12158.3416,W,161229.487,A,A*41", time.Now())
	assert.Error(t, err)
}

func TestFLDRejectsShortSentence(t *testing.T) {
	body := "MGFLD,1,2,3"
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	_, err := ParseFLD(fmt.Sprintf("$%s*%02X", body, cs), time.Now())
	assert.Error(t, err)
}

func TestDecodeSample(t *testing.T) {
	smp, err := DecodeSample([]byte(`{"mag":{"x":1,"y":2,"z":3},"quat":{"w":1,"x":0,"y":0,"z":0},"time":"2026-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, vecmath.Vec(1, 2, 3), smp.Raw)
	assert.Equal(t, vecmath.Identity(), smp.Orientation)
	assert.Equal(t, 2026, smp.Time.Year())

	before := time.Now()
	smp, err = DecodeSample([]byte(`{"mag":{"x":1,"y":2,"z":3},"quat":{"w":1}}`))
	require.NoError(t, err)
	assert.False(t, smp.Time.Before(before))

	_, err = DecodeSample([]byte(`{"mag":`))
	assert.Error(t, err)
}

func TestMockSourceDeterministic(t *testing.T) {
	opts := DefaultMockOptions()
	opts.RateHz = 0

	read := func() []Sample {
		src := NewMockSource(opts)
		require.NoError(t, src.Open())
		defer src.Close()
		out := make([]Sample, 50)
		for i := range out {
			s, err := src.Next(context.Background())
			require.NoError(t, err)
			out[i] = s
		}
		return out
	}
	a, b := read(), read()
	for i := range a {
		assert.Equal(t, a[i].Raw, b[i].Raw, "sample %d", i)
		assert.Equal(t, a[i].Orientation, b[i].Orientation, "sample %d", i)
	}
}

func TestMockSourceMagnetPeriod(t *testing.T) {
	opts := MockOptions{
		SimRateHz:    10,
		EarthField:   vecmath.Vec(0, 0, 0),
		Magnet:       vecmath.Vec(0, 0, 250),
		MagnetPeriod: 2 * time.Second,
	}
	src := NewMockSource(opts)
	require.NoError(t, src.Open())
	defer src.Close()

	ctx := context.Background()
	for i := 0; i < 40; i++ {
		s, err := src.Next(ctx)
		require.NoError(t, err)
		on := (i % 20) >= 10
		if on {
			assert.InDelta(t, 250, s.Raw.Norm(), 1e-9, "sample %d", i)
		} else {
			assert.InDelta(t, 0, s.Raw.Norm(), 1e-9, "sample %d", i)
		}
	}
}

func TestMockSourceMagnetDelay(t *testing.T) {
	opts := MockOptions{
		SimRateHz:    10,
		Magnet:       vecmath.Vec(0, 0, 250),
		MagnetDelay:  3 * time.Second,
		MagnetPeriod: 2 * time.Second,
	}
	src := NewMockSource(opts)
	require.NoError(t, src.Open())
	defer src.Close()

	ctx := context.Background()
	for i := 0; i < 70; i++ {
		s, err := src.Next(ctx)
		require.NoError(t, err)
		on := i >= 30 && (i-30)%20 >= 10
		assert.Equal(t, on, s.Raw.Norm() > 1, "sample %d", i)
	}
}

func TestDefaultMockKeepsMagnetOutOfCalibrationWindow(t *testing.T) {
	opts := DefaultMockOptions()
	assert.Greater(t, opts.MagnetDelay+opts.MagnetPeriod/2, 30*time.Second,
		"magnet must not appear inside a 30 s calibration started at t=0")
}

func TestMockSourceAppliesIronErrors(t *testing.T) {
	opts := MockOptions{
		SimRateHz:  10,
		EarthField: vecmath.Vec(10, 0, 0),
		HardIron:   vecmath.Vec(5, 6, 7),
		SoftIron:   vecmath.Vec(2, 1, 1),
	}
	src := NewMockSource(opts)
	require.NoError(t, src.Open())
	defer src.Close()

	s, err := src.Next(context.Background())
	require.NoError(t, err)
	// t=0: identity orientation.
	assert.InDelta(t, 25, s.Raw.X, 1e-9)
	assert.InDelta(t, 6, s.Raw.Y, 1e-9)
	assert.InDelta(t, 7, s.Raw.Z, 1e-9)
}

func TestMockSourceHonoursContext(t *testing.T) {
	opts := DefaultMockOptions()
	opts.RateHz = 0
	src := NewMockSource(opts)
	require.NoError(t, src.Open())
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockOrientationIsUnit(t *testing.T) {
	for i := 0; i < 100; i++ {
		q := MockOrientation(float64(i) * 0.37)
		assert.InDelta(t, 1, q.Norm(), 1e-9)
	}
}

func TestHMCConversion(t *testing.T) {
	// X=+1090, Z=-980, Y=0 counts at gain code 1 is +1 G, -1 G, 0.
	data := []byte{0x04, 0x42, 0xFC, 0x2C, 0x00, 0x00}
	v := hmcToMicroTesla(data, 1)
	assert.InDelta(t, 100, v.X, 1e-9)
	assert.InDelta(t, 0, v.Y, 1e-9)
	assert.InDelta(t, -100, v.Z, 1e-9)
}

func TestHMCConfigRegister(t *testing.T) {
	assert.Equal(t, byte(0x70), hmcCRA(8, 15))
	assert.Equal(t, byte(0x18), hmcCRA(1, 75))
	assert.Equal(t, byte(0x10), hmcCRA(0, 0))
}

func TestMQTTSourceBuffersAndDrops(t *testing.T) {
	src := NewMQTTSource(MQTTOptions{Buffer: 2})
	msg := func(p string) fakeMessage { return fakeMessage{payload: []byte(p)} }

	src.onMessage(nil, msg(`{"mag":{"x":1},"quat":{"w":1}}`))
	src.onMessage(nil, msg(`{"mag":{"x":2},"quat":{"w":1}}`))
	src.onMessage(nil, msg(`{"mag":{"x":3},"quat":{"w":1}}`))
	src.onMessage(nil, msg(`not json`))
	assert.Equal(t, int64(1), src.Dropped())

	ctx := context.Background()
	s, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Raw.X)
	s, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.Raw.X)

	require.NoError(t, src.Close())
	_, err = src.Next(ctx)
	assert.Error(t, err)
}

type fakeMessage struct {
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "magnet/samples" }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
