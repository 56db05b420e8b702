package imu

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// MPU6050 register map and scale factors for the power-on ranges
// (+-2 g, +-250 deg/s).
const (
	MPU6050Address = 0x68

	regSmplrtDiv   = 0x19
	regConfig      = 0x1A
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXoutH  = 0x3B
	regPwrMgmt1    = 0x6B
	regWhoAmI      = 0x75

	whoAmIValue = 0x68

	accelLSBPerG   = 16384.0
	gyroLSBPerDegS = 131.0

	burstLen = 14 // accel(6) temp(2) gyro(6)
)

// Bus is a register-level connection to one I2C target.
type Bus interface {
	WriteReg(reg, val byte) error
	ReadRegs(reg byte, buf []byte) error
	Close() error
}

// MPU6050 reads the InvenSense MPU6050 accelerometer/gyroscope.
type MPU6050 struct {
	mu  sync.Mutex
	bus Bus
	buf [burstLen]byte
}

// NewMPU6050 wakes the device and selects the default ranges. The bus is
// owned by the returned sensor.
func NewMPU6050(bus Bus) (*MPU6050, error) {
	var id [1]byte
	if err := bus.ReadRegs(regWhoAmI, id[:]); err != nil {
		return nil, fmt.Errorf("mpu6050: who_am_i: %w", err)
	}
	// Clones report other ids but share the register map.
	if id[0]&0x7E != whoAmIValue&0x7E {
		return nil, fmt.Errorf("mpu6050: unexpected who_am_i 0x%02X", id[0])
	}

	init := []struct {
		reg, val byte
	}{
		{regPwrMgmt1, 0x00}, // wake, internal oscillator
		{regSmplrtDiv, 0x00},
		{regConfig, 0x00},
		{regGyroConfig, 0x00},  // +-250 deg/s
		{regAccelConfig, 0x00}, // +-2 g
	}
	for _, w := range init {
		if err := bus.WriteReg(w.reg, w.val); err != nil {
			return nil, fmt.Errorf("mpu6050: write reg 0x%02X: %w", w.reg, err)
		}
	}

	return &MPU6050{bus: bus}, nil
}

// Read performs one burst read of the accelerometer and gyroscope.
func (m *MPU6050) Read() (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.bus.ReadRegs(regAccelXoutH, m.buf[:]); err != nil {
		return Reading{}, fmt.Errorf("mpu6050: read: %w", err)
	}

	word := func(off int) float64 {
		return float64(int16(binary.BigEndian.Uint16(m.buf[off:])))
	}

	return Reading{
		AX: word(0) / accelLSBPerG,
		AY: word(2) / accelLSBPerG,
		AZ: word(4) / accelLSBPerG,
		GX: word(8) / gyroLSBPerDegS,
		GY: word(10) / gyroLSBPerDegS,
		GZ: word(12) / gyroLSBPerDegS,
	}, nil
}

// Close releases the bus.
func (m *MPU6050) Close() error {
	return m.bus.Close()
}
