//go:build linux

package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
	"github.com/go-ble/ble/linux/hci/evt"
)

type linuxDevice struct {
	dev *linux.Device
}

func newPlatformDevice(opts DeviceOptions) (Device, error) {
	interval := advIntervalUnits(opts.Interval)

	dev, err := linux.NewDeviceWithName(opts.Name,
		ble.OptDeviceID(opts.DeviceID),
		ble.OptAdvParams(cmd.LESetAdvertisingParameters{
			AdvertisingIntervalMin:  interval,
			AdvertisingIntervalMax:  interval,
			AdvertisingType:         0x00, // ADV_IND, connectable undirected
			OwnAddressType:          0x00,
			DirectAddressType:       0x00,
			AdvertisingChannelMap:   0x07,
			AdvertisingFilterPolicy: 0x00,
		}),
		ble.OptConnectHandler(func(e evt.LEConnectionComplete) {
			if opts.OnConnect != nil {
				opts.OnConnect(e.ConnectionHandle())
			}
		}),
		ble.OptDisconnectHandler(func(e evt.DisconnectionComplete) {
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(e.ConnectionHandle())
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open hci%d: %w", opts.DeviceID, err)
	}
	return &linuxDevice{dev: dev}, nil
}

func (d *linuxDevice) AddService(svc *ble.Service) error   { return d.dev.AddService(svc) }
func (d *linuxDevice) SetAdvertisement(ad, sr []byte) error { return d.dev.HCI.SetAdvertisement(ad, sr) }
func (d *linuxDevice) Advertise() error                     { return d.dev.HCI.Advertise() }
func (d *linuxDevice) StopAdvertising() error               { return d.dev.HCI.StopAdvertising() }
func (d *linuxDevice) Stop() error                          { return d.dev.Stop() }
