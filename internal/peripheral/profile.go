package peripheral

import (
	"fmt"

	"github.com/google/uuid"
)

// DeviceName is the fixed discoverable name.
const DeviceName = "PICO-IMU"

// Nordic UART Service identifiers.
var (
	ServiceUUID = uuid.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	RXUUID      = uuid.MustParse("6E400002-B5A3-F393-E0A9-E50E24DCCA9E") // central -> peripheral, reserved
	TXUUID      = uuid.MustParse("6E400003-B5A3-F393-E0A9-E50E24DCCA9E") // peripheral -> central, notify
)

// Property is a GATT characteristic property bit.
type Property uint8

const (
	PropRead   Property = 0x02
	PropWrite  Property = 0x08
	PropNotify Property = 0x10
)

// Has reports whether all bits of q are set in p.
func (p Property) Has(q Property) bool { return p&q == q }

func (p Property) String() string {
	s := ""
	for _, f := range []struct {
		bit  Property
		name string
	}{{PropRead, "read"}, {PropWrite, "write"}, {PropNotify, "notify"}} {
		if p.Has(f.bit) {
			if s != "" {
				s += ","
			}
			s += f.name
		}
	}
	return s
}

// CharacteristicDef declares one characteristic of a service.
type CharacteristicDef struct {
	UUID       uuid.UUID
	Properties Property
}

// ServiceDef declares a primary service and its characteristics, in
// registration order.
type ServiceDef struct {
	UUID            uuid.UUID
	Characteristics []CharacteristicDef
}

// UARTService returns the streaming service: TX (read, notify) first, RX
// (write) second. Stacks report value handles in this order.
func UARTService() ServiceDef {
	return ServiceDef{
		UUID: ServiceUUID,
		Characteristics: []CharacteristicDef{
			{UUID: TXUUID, Properties: PropRead | PropNotify},
			{UUID: RXUUID, Properties: PropWrite},
		},
	}
}

// RegisteredService is one service entry of a Registration. Stacks come in two
// shapes: nested entries carry the service declaration handle followed by the
// characteristic value handles, flat entries carry only the value handles.
type RegisteredService struct {
	Nested  bool
	Service Handle
	Values  []Handle
}

// Registration is the handle layout returned by Stack.RegisterServices.
type Registration []RegisteredService

// Handles is the resolved attribute layout of the streaming service.
type Handles struct {
	Service Handle // zero for flat registrations
	TX      Handle
	RX      Handle
	CCCD    Handle
}

// ResolveHandles extracts the TX and RX value handles from a registration of
// UARTService. Any layout other than a single nested or flat entry with two
// value handles is rejected.
func ResolveHandles(reg Registration) (Handles, error) {
	if len(reg) != 1 {
		return Handles{}, fmt.Errorf("%w: expected 1 service entry, got %d", ErrUnexpectedLayout, len(reg))
	}

	entry := reg[0]
	if len(entry.Values) != 2 {
		return Handles{}, fmt.Errorf("%w: expected 2 value handles, got %d", ErrUnexpectedLayout, len(entry.Values))
	}

	h := Handles{TX: entry.Values[0], RX: entry.Values[1]}
	if entry.Nested {
		if entry.Service == 0 || entry.Service >= h.TX {
			return Handles{}, fmt.Errorf("%w: service handle %d does not precede TX handle %d", ErrUnexpectedLayout, entry.Service, h.TX)
		}
		h.Service = entry.Service
	} else if entry.Service != 0 {
		return Handles{}, fmt.Errorf("%w: flat entry carries service handle %d", ErrUnexpectedLayout, entry.Service)
	}

	if h.TX == 0 || h.RX == 0 || h.TX == h.RX {
		return Handles{}, fmt.Errorf("%w: invalid value handles tx=%d rx=%d", ErrUnexpectedLayout, h.TX, h.RX)
	}

	h.CCCD = h.TX + 1
	if h.CCCD == h.RX {
		return Handles{}, fmt.Errorf("%w: RX value handle %d collides with TX CCCD", ErrUnexpectedLayout, h.RX)
	}
	return h, nil
}

// VerifyCCCD checks that a 2-byte subscription control value is readable at
// TX + 1.
func VerifyCCCD(stack Stack, h Handles) error {
	v, err := stack.ReadAttribute(h.CCCD)
	if err != nil {
		return fmt.Errorf("%w: read handle %d: %v", ErrCCCDNotFound, h.CCCD, err)
	}
	if len(v) != 2 {
		return fmt.Errorf("%w: handle %d holds %d bytes", ErrCCCDNotFound, h.CCCD, len(v))
	}
	return nil
}

// Setup registers the streaming service and validates the returned layout.
func Setup(stack Stack) (Handles, error) {
	reg, err := stack.RegisterServices(UARTService())
	if err != nil {
		return Handles{}, fmt.Errorf("failed to register services: %w", err)
	}

	h, err := ResolveHandles(reg)
	if err != nil {
		return Handles{}, err
	}

	if err := VerifyCCCD(stack, h); err != nil {
		return Handles{}, err
	}
	return h, nil
}

// ReversedBytes returns the UUID in the little-endian byte order used on air.
func ReversedBytes(u uuid.UUID) []byte {
	b := make([]byte, len(u))
	for i := range u {
		b[len(u)-1-i] = u[i]
	}
	return b
}
