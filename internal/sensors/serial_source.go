// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/magnet_tracker/internal/vecmath"
)

// TypeFLD is the sentence type of a field + orientation report:
//
//	$MGFLD,mx,my,mz,qw,qx,qy,qz*CS
//
// mx..mz in µT, q the device orientation quaternion.
const TypeFLD = "FLD"

// FLD is a parsed field + orientation sentence.
type FLD struct {
	nmea.BaseSentence
	Mag  vecmath.Vector3
	Quat vecmath.Quaternion
}

func init() {
	nmea.MustRegisterParser(TypeFLD, parseFLD)
}

func parseFLD(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeFLD)
	f := FLD{
		BaseSentence: s,
		Mag:          vecmath.Vec(p.Float64(0, "mx"), p.Float64(1, "my"), p.Float64(2, "mz")),
		Quat: vecmath.Quaternion{
			W: p.Float64(3, "qw"),
			X: p.Float64(4, "qx"),
			Y: p.Float64(5, "qy"),
			Z: p.Float64(6, "qz"),
		},
	}
	return f, p.Err()
}

// ParseFLD parses one sentence line into a Sample stamped with at.
func ParseFLD(line string, at time.Time) (Sample, error) {
	sent, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		return Sample{}, err
	}
	f, ok := sent.(FLD)
	if !ok {
		return Sample{}, fmt.Errorf("unexpected sentence type %s", sent.DataType())
	}
	return Sample{Raw: f.Mag, Orientation: f.Quat, Time: at}, nil
}

// FormatFLD renders s as a checksummed sentence with the given talker.
func FormatFLD(talker string, s Sample) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	body := strings.Join([]string{
		talker + TypeFLD,
		f(s.Raw.X), f(s.Raw.Y), f(s.Raw.Z),
		f(s.Orientation.W), f(s.Orientation.X), f(s.Orientation.Y), f(s.Orientation.Z),
	}, ",")
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, cs)
}

// SerialOptions configures a SerialSource.
type SerialOptions struct {
	Port     string
	BaudRate uint
}

// SerialSource reads FLD sentences from a microcontroller over a serial port.
type SerialSource struct {
	opts   SerialOptions
	port   io.ReadWriteCloser
	reader *bufio.Reader
	bad    int
}

// NewSerialSource returns an unopened serial sample source.
func NewSerialSource(opts SerialOptions) *SerialSource {
	return &SerialSource{opts: opts}
}

// Open opens the serial port.
func (s *SerialSource) Open() error {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              s.opts.Port,
		BaudRate:              s.opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("%w: open serial %s: %v", ErrSensorUnavailable, s.opts.Port, err)
	}
	s.port = port
	s.reader = bufio.NewReader(port)
	log.Printf("sensors: serial port opened on %s at %d baud", s.opts.Port, s.opts.BaudRate)
	return nil
}

// Next reads lines until a valid FLD sentence arrives. Other sentences and
// corrupt lines are skipped.
func (s *SerialSource) Next(ctx context.Context) (Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return Sample{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		smp, err := ParseFLD(line, time.Now())
		if err != nil {
			s.bad++
			if s.bad == 1 || s.bad%100 == 0 {
				log.Printf("sensors: skipping serial line (%d so far): %v", s.bad, err)
			}
			continue
		}
		return smp, nil
	}
}

// Close closes the port.
func (s *SerialSource) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
