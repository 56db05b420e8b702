package goble

import (
	"time"

	"github.com/go-ble/ble"
)

// Device is the part of a go-ble HCI device the adapter drives.
type Device interface {
	AddService(svc *ble.Service) error
	SetAdvertisement(ad, sr []byte) error
	Advertise() error
	StopAdvertising() error
	Stop() error
}

// DeviceOptions configures device creation.
type DeviceOptions struct {
	Name         string        // GAP device name
	DeviceID     int           // hciN
	Interval     time.Duration // advertising interval
	OnConnect    func(conn uint16)
	OnDisconnect func(conn uint16)
}

// DeviceFactory creates the HCI device. This is a variable so that it can be
// overridden in tests.
//
//nolint:revive // exported for test substitution
var DeviceFactory = newPlatformDevice

// advIntervalUnits converts d to 0.625 ms advertising interval units, clamped
// to the range allowed for connectable advertising.
func advIntervalUnits(d time.Duration) uint16 {
	u := d / (625 * time.Microsecond)
	switch {
	case u < 0x0020:
		return 0x0020
	case u > 0x4000:
		return 0x4000
	default:
		return uint16(u)
	}
}
