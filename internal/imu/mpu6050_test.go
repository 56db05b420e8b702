package imu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	regs    map[byte]byte
	writes  [][2]byte
	readErr error
	closed  bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: map[byte]byte{regWhoAmI: whoAmIValue, regPwrMgmt1: 0x40}}
}

func (b *fakeBus) WriteReg(reg, val byte) error {
	b.writes = append(b.writes, [2]byte{reg, val})
	b.regs[reg] = val
	return nil
}

func (b *fakeBus) ReadRegs(reg byte, buf []byte) error {
	if b.readErr != nil {
		return b.readErr
	}
	for i := range buf {
		buf[i] = b.regs[reg+byte(i)]
	}
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBus) setWord(reg byte, v int16) {
	b.regs[reg] = byte(uint16(v) >> 8)
	b.regs[reg+1] = byte(uint16(v))
}

func TestNewMPU6050_Wakes(t *testing.T) {
	bus := newFakeBus()

	m, err := NewMPU6050(bus)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, byte(0x00), bus.regs[regPwrMgmt1])
	assert.Equal(t, [2]byte{regPwrMgmt1, 0x00}, bus.writes[0], "wake must come first")
	assert.Equal(t, byte(0x00), bus.regs[regGyroConfig])
	assert.Equal(t, byte(0x00), bus.regs[regAccelConfig])
}

func TestNewMPU6050_Errors(t *testing.T) {
	t.Run("wrong device", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[regWhoAmI] = 0x12

		_, err := NewMPU6050(bus)
		assert.ErrorContains(t, err, "unexpected who_am_i 0x12")
	})

	t.Run("bus failure", func(t *testing.T) {
		bus := newFakeBus()
		bus.readErr = errors.New("remote I/O error")

		_, err := NewMPU6050(bus)
		assert.ErrorContains(t, err, "remote I/O error")
	})
}

func TestMPU6050_Read(t *testing.T) {
	bus := newFakeBus()
	m, err := NewMPU6050(bus)
	require.NoError(t, err)

	bus.setWord(regAccelXoutH, 16384)    // 1 g
	bus.setWord(regAccelXoutH+2, -8192)  // -0.5 g
	bus.setWord(regAccelXoutH+4, 0)      // 0 g
	bus.setWord(regAccelXoutH+6, 1234)   // temperature, ignored
	bus.setWord(regAccelXoutH+8, 131)    // 1 deg/s
	bus.setWord(regAccelXoutH+10, -1310) // -10 deg/s
	bus.setWord(regAccelXoutH+12, 32767)

	r, err := m.Read()
	require.NoError(t, err)

	assert.InDelta(t, 1.0, r.AX, 1e-9)
	assert.InDelta(t, -0.5, r.AY, 1e-9)
	assert.InDelta(t, 0.0, r.AZ, 1e-9)
	assert.InDelta(t, 1.0, r.GX, 1e-9)
	assert.InDelta(t, -10.0, r.GY, 1e-9)
	assert.InDelta(t, 250.13, r.GZ, 0.01)

	require.NoError(t, m.Close())
	assert.True(t, bus.closed)
}

func TestMPU6050_ReadError(t *testing.T) {
	bus := newFakeBus()
	m, err := NewMPU6050(bus)
	require.NoError(t, err)

	bus.readErr = errors.New("nack")
	_, err = m.Read()
	assert.ErrorContains(t, err, "mpu6050: read: nack")
}
