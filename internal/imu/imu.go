// Package imu provides the motion sensor sources for the streamer.
package imu

import (
	"fmt"
	"sync/atomic"
)

// Reading is one sample set in physical units: linear acceleration in g,
// angular rate in degrees per second.
type Reading struct {
	AX, AY, AZ float64
	GX, GY, GZ float64
}

func (r Reading) String() string {
	return fmt.Sprintf("ax %.2f\tay %.2f\taz %.2f\tgx %.0f\tgy %.0f\tgz %.0f", r.AX, r.AY, r.AZ, r.GX, r.GY, r.GZ)
}

// Sensor produces readings on demand.
type Sensor interface {
	Read() (Reading, error)
}

// SensorFunc adapts a function to the Sensor interface.
type SensorFunc func() (Reading, error)

func (f SensorFunc) Read() (Reading, error) { return f() }

// Still is a sensor at rest: 1 g on Z, no rotation. Used for bench runs
// without hardware.
type Still struct {
	reads atomic.Uint64
}

func (s *Still) Read() (Reading, error) {
	s.reads.Add(1)
	return Reading{AZ: 1.0}, nil
}

// Reads returns how many readings were taken.
func (s *Still) Reads() uint64 { return s.reads.Load() }
