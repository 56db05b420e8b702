//go:build !linux

package imu

import (
	"errors"
	"runtime"
)

// OpenI2C is only available on Linux.
func OpenI2C(path string, addr uint16) (Bus, error) {
	return nil, errors.New("i2c-dev is not supported on " + runtime.GOOS)
}
