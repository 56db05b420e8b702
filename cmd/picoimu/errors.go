package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/srg/picoimu/internal/imu"
	"github.com/srg/picoimu/internal/peripheral"
)

// FormatUserError turns setup failures into a message with a hint.
func FormatUserError(err error) string {
	var scriptErr *imu.ScriptError

	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EPERM):
		return fmt.Sprintf("%v\nHint: raw HCI and I2C access need root or CAP_NET_ADMIN/CAP_NET_RAW and membership in the i2c group", err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Sprintf("%v\nHint: the HCI device is held by bluetoothd; stop it or run 'hciconfig hciX down' first", err)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV):
		return fmt.Sprintf("%v\nHint: check --hci, --i2c-bus and --led; use --sensor still to run without an IMU", err)
	case errors.Is(err, peripheral.ErrUnexpectedLayout), errors.Is(err, peripheral.ErrCCCDNotFound):
		return fmt.Sprintf("Bluetooth stack returned an unsupported attribute layout: %v", err)
	case errors.As(err, &scriptErr):
		return fmt.Sprintf("sensor script failed: %v", scriptErr)
	default:
		return err.Error()
	}
}
