//go:build !linux

package goble

import (
	"fmt"
	"runtime"
)

func newPlatformDevice(opts DeviceOptions) (Device, error) {
	return nil, fmt.Errorf("raw HCI peripheral mode is not supported on %s", runtime.GOOS)
}
