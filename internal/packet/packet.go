// Package packet encodes IMU readings into the 12-byte notification packet.
//
// Wire format, little-endian:
//
//	offset  field  type   scale
//	0       ax     int16  g x 1000
//	2       ay     int16  g x 1000
//	4       az     int16  g x 1000
//	6       gx     int16  deg/s x 100
//	8       gy     int16  deg/s x 100
//	10      gz     int16  deg/s x 100
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/srg/picoimu/internal/imu"
)

const (
	// Size is the encoded packet size in bytes.
	Size = 12

	// AccelScale converts g to packet units.
	AccelScale = 1000
	// GyroScale converts deg/s to packet units.
	GyroScale = 100
)

// ErrInvalidSize is returned when decoding a buffer that is not Size bytes.
var ErrInvalidSize = errors.New("invalid packet size: expected 12 bytes")

// Packet holds the six fixed-point fields in wire order.
type Packet struct {
	AX, AY, AZ int16
	GX, GY, GZ int16
}

// FromReading scales and truncates a reading to fixed point. Scaled values
// outside the int16 range saturate.
func FromReading(r imu.Reading) Packet {
	return Packet{
		AX: fixed(r.AX, AccelScale),
		AY: fixed(r.AY, AccelScale),
		AZ: fixed(r.AZ, AccelScale),
		GX: fixed(r.GX, GyroScale),
		GY: fixed(r.GY, GyroScale),
		GZ: fixed(r.GZ, GyroScale),
	}
}

func fixed(v, scale float64) int16 {
	s := math.Trunc(v * scale)
	switch {
	case math.IsNaN(s):
		return 0
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	}
	return int16(s)
}

// Fields returns the values in wire order.
func (p Packet) Fields() [6]int16 {
	return [6]int16{p.AX, p.AY, p.AZ, p.GX, p.GY, p.GZ}
}

// Put writes the packet into dst, which must hold at least Size bytes.
func (p Packet) Put(dst []byte) {
	_ = dst[Size-1]
	for i, v := range p.Fields() {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
}

// Bytes returns the encoded packet.
func (p Packet) Bytes() []byte {
	b := make([]byte, Size)
	p.Put(b)
	return b
}

// Reading converts back to physical units.
func (p Packet) Reading() imu.Reading {
	return imu.Reading{
		AX: float64(p.AX) / AccelScale,
		AY: float64(p.AY) / AccelScale,
		AZ: float64(p.AZ) / AccelScale,
		GX: float64(p.GX) / GyroScale,
		GY: float64(p.GY) / GyroScale,
		GZ: float64(p.GZ) / GyroScale,
	}
}

// Parse decodes a 12-byte packet.
func Parse(data []byte) (Packet, error) {
	if len(data) != Size {
		return Packet{}, fmt.Errorf("%w, got %d", ErrInvalidSize, len(data))
	}

	field := func(i int) int16 {
		return int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return Packet{
		AX: field(0), AY: field(1), AZ: field(2),
		GX: field(3), GY: field(4), GZ: field(5),
	}, nil
}

// Encode is FromReading followed by Bytes.
func Encode(r imu.Reading) []byte {
	return FromReading(r).Bytes()
}
