// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// I2C register map for HMC5983/HMC5883L.
const (
	hmcRegCRA  = 0x00
	hmcRegCRB  = 0x01
	hmcRegMode = 0x02
	hmcRegData = 0x03 // X MSB, X LSB, Z MSB, Z LSB, Y MSB, Y LSB
	hmcRegIDA  = 0x0A

	// HMCDefaultAddr is the fixed I2C address of the part.
	HMCDefaultAddr = 0x1E
)

// Typical LSB/Gauss per gain code (datasheet).
var (
	hmcGainXY = []float64{1370, 1090, 820, 660, 440, 390, 330, 230}
	hmcGainZ  = []float64{1330, 980, 660, 600, 400, 355, 295, 205}
)

// HMCOptions configures the HMC5983 source.
type HMCOptions struct {
	Bus        string // I2C bus name; "" picks the first one
	Addr       uint16
	ODRHz      int // 3, 7, 15, 30 or 75
	AvgSamples int // 1, 2, 4 or 8
	GainCode   int // 0..7
	RateHz     float64
	// Mount is the fixed orientation of the sensor board relative to the
	// reference frame; the part has no attitude estimate of its own.
	Mount vecmath.Quaternion
}

// HMCSource reads an HMC5983 magnetometer over I2C.
type HMCSource struct {
	opts   HMCOptions
	bus    i2c.BusCloser
	dev    i2c.Dev
	ticker *time.Ticker
}

// NewHMCSource returns an unopened HMC5983 source.
func NewHMCSource(opts HMCOptions) *HMCSource {
	if opts.Addr == 0 {
		opts.Addr = HMCDefaultAddr
	}
	if opts.GainCode < 0 || opts.GainCode > 7 {
		opts.GainCode = 1
	}
	if opts.RateHz <= 0 {
		opts.RateHz = 15
	}
	if opts.Mount == (vecmath.Quaternion{}) {
		opts.Mount = vecmath.Identity()
	}
	return &HMCSource{opts: opts}
}

// Open initializes periph, opens the bus and configures the part.
func (s *HMCSource) Open() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("%w: periph host init: %v", ErrSensorUnavailable, err)
	}
	bus, err := i2creg.Open(s.opts.Bus)
	if err != nil {
		return fmt.Errorf("%w: i2c open %q: %v", ErrSensorUnavailable, s.opts.Bus, err)
	}
	s.bus = bus
	s.dev = i2c.Dev{Addr: s.opts.Addr, Bus: bus}

	id := make([]byte, 3)
	if err := s.dev.Tx([]byte{hmcRegIDA}, id); err != nil {
		bus.Close()
		return fmt.Errorf("%w: hmc5983 id read: %v", ErrSensorUnavailable, err)
	}
	if string(id) != "H43" {
		bus.Close()
		return fmt.Errorf("%w: hmc5983 unexpected id %q at 0x%02X", ErrSensorUnavailable, id, s.opts.Addr)
	}

	for _, w := range [][]byte{
		{hmcRegCRA, hmcCRA(s.opts.AvgSamples, s.opts.ODRHz)},
		{hmcRegCRB, byte(s.opts.GainCode) << 5},
		{hmcRegMode, 0x00}, // continuous
	} {
		if err := s.dev.Tx(w, nil); err != nil {
			bus.Close()
			return fmt.Errorf("%w: hmc5983 write reg 0x%02X: %v", ErrSensorUnavailable, w[0], err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	s.ticker = time.NewTicker(time.Duration(float64(time.Second) / s.opts.RateHz))
	log.Printf("sensors: hmc5983 ready at 0x%02X (gain=%d, %s Hz)", s.opts.Addr, s.opts.GainCode, strconv.FormatFloat(s.opts.RateHz, 'f', -1, 64))
	return nil
}

// hmcCRA packs averaging (bits 6..5) and output rate (bits 4..2).
func hmcCRA(avg, odr int) byte {
	cra := byte(0)
	switch avg {
	case 8:
		cra |= 0b11 << 5
	case 4:
		cra |= 0b10 << 5
	case 2:
		cra |= 0b01 << 5
	}
	switch odr {
	case 75:
		cra |= 0b110 << 2
	case 30:
		cra |= 0b101 << 2
	case 7:
		cra |= 0b011 << 2
	case 3:
		cra |= 0b010 << 2
	default: // 15 Hz
		cra |= 0b100 << 2
	}
	return cra
}

// hmcToMicroTesla converts a raw X,Z,Y register block to µT in X,Y,Z order.
func hmcToMicroTesla(data []byte, gainCode int) vecmath.Vector3 {
	x := int16(data[0])<<8 | int16(data[1])
	z := int16(data[2])<<8 | int16(data[3])
	y := int16(data[4])<<8 | int16(data[5])
	// 1 Gauss = 100 µT
	return vecmath.Vec(
		float64(x)/hmcGainXY[gainCode]*100,
		float64(y)/hmcGainXY[gainCode]*100,
		float64(z)/hmcGainZ[gainCode]*100,
	)
}

// Next waits for the next tick and reads one measurement.
func (s *HMCSource) Next(ctx context.Context) (Sample, error) {
	select {
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case <-s.ticker.C:
	}
	data := make([]byte, 6)
	if err := s.dev.Tx([]byte{hmcRegData}, data); err != nil {
		return Sample{}, fmt.Errorf("hmc5983 read: %w", err)
	}
	return Sample{
		Raw:         hmcToMicroTesla(data, s.opts.GainCode),
		Orientation: s.opts.Mount,
		Time:        time.Now(),
	}, nil
}

// Close releases the bus.
func (s *HMCSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.bus == nil {
		return nil
	}
	return s.bus.Close()
}
