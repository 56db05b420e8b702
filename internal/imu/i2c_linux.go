//go:build linux

package imu

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// i2cSlave is the I2C_SLAVE ioctl from linux/i2c-dev.h.
const i2cSlave = 0x0703

type i2cDev struct {
	fd   int
	path string
}

// OpenI2C opens an i2c-dev node and binds it to addr.
func OpenI2C(path string, addr uint16) (Bus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(fd, i2cSlave, int(addr)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s to 0x%02X: %w", path, addr, err)
	}
	return &i2cDev{fd: fd, path: path}, nil
}

func (d *i2cDev) WriteReg(reg, val byte) error {
	n, err := unix.Write(d.fd, []byte{reg, val})
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("%s: short write %d/2", d.path, n)
	}
	return nil
}

func (d *i2cDev) ReadRegs(reg byte, buf []byte) error {
	if _, err := unix.Write(d.fd, []byte{reg}); err != nil {
		return err
	}
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%s: short read %d/%d", d.path, n, len(buf))
	}
	return nil
}

func (d *i2cDev) Close() error {
	return unix.Close(d.fd)
}
