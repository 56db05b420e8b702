package peripheral

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AD structure types [Core Spec Supplement, Part A, 1].
const (
	adFlags            = 0x01
	adComplete128UUIDs = 0x07
	adCompleteName     = 0x09

	// LE General Discoverable, BR/EDR not supported.
	flagsGeneralDiscoverable = 0x06

	// MaxPayloadLen is the legacy advertising / scan response payload limit.
	MaxPayloadLen = 31

	// DefaultAdvertiseInterval is the broadcast interval.
	DefaultAdvertiseInterval = 100 * time.Millisecond
)

// AdvertisingPayload returns the primary payload. It carries the flags only so
// that the name and the 128-bit service identifier fit into the scan response.
func AdvertisingPayload() []byte {
	return []byte{0x02, adFlags, flagsGeneralDiscoverable}
}

// ScanResponsePayload returns the complete local name followed by the complete
// list of 128-bit service UUIDs, the UUID in on-air byte order.
func ScanResponsePayload(name string, svc uuid.UUID) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("device name cannot be empty")
	}

	id := ReversedBytes(svc)
	size := 2 + len(name) + 2 + len(id)
	if size > MaxPayloadLen {
		return nil, fmt.Errorf("%w: name %q needs %d bytes", ErrPayloadTooLong, name, size)
	}

	b := make([]byte, 0, size)
	b = append(b, byte(len(name)+1), adCompleteName)
	b = append(b, name...)
	b = append(b, byte(len(id)+1), adComplete128UUIDs)
	b = append(b, id...)
	return b, nil
}

// Broadcaster makes the device discoverable while no central is connected.
type Broadcaster struct {
	stack    Stack
	name     string
	service  uuid.UUID
	interval time.Duration
	logger   *logrus.Logger

	pending atomic.Bool   // last Start failed and must be retried
	starts  atomic.Uint64 // successful Start requests
}

// NewBroadcaster creates a broadcaster for the streaming service. A zero
// interval selects DefaultAdvertiseInterval.
func NewBroadcaster(stack Stack, name string, interval time.Duration, logger *logrus.Logger) *Broadcaster {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if interval <= 0 {
		interval = DefaultAdvertiseInterval
	}
	return &Broadcaster{
		stack:    stack,
		name:     name,
		service:  ServiceUUID,
		interval: interval,
		logger:   logger,
	}
}

// Name returns the advertised device name.
func (b *Broadcaster) Name() string { return b.name }

// Params builds the connectable broadcast request.
func (b *Broadcaster) Params() (AdvertiseParams, error) {
	sr, err := ScanResponsePayload(b.name, b.service)
	if err != nil {
		return AdvertiseParams{}, err
	}
	return AdvertiseParams{
		Data:         AdvertisingPayload(),
		ScanResponse: sr,
		Interval:     b.interval,
		Connectable:  true,
	}, nil
}

// Start issues the broadcast request. On failure the request is marked
// pending so that Session.Service can reissue it.
func (b *Broadcaster) Start() error {
	p, err := b.Params()
	if err != nil {
		return err
	}

	if err := b.stack.Advertise(context.Background(), p); err != nil {
		b.pending.Store(true)
		return fmt.Errorf("failed to start advertising: %w", err)
	}

	b.pending.Store(false)
	n := b.starts.Add(1)
	b.logger.WithFields(logrus.Fields{
		"name":     b.name,
		"interval": b.interval,
		"starts":   n,
	}).Info("Advertising")
	return nil
}

// Stop cancels the broadcast and any pending retry.
func (b *Broadcaster) Stop() error {
	b.pending.Store(false)
	if err := b.stack.StopAdvertising(); err != nil {
		return fmt.Errorf("failed to stop advertising: %w", err)
	}
	return nil
}

// Pending reports whether a failed Start is waiting to be retried.
func (b *Broadcaster) Pending() bool { return b.pending.Load() }

// Starts returns the number of successful Start requests.
func (b *Broadcaster) Starts() uint64 { return b.starts.Load() }
