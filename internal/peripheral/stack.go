package peripheral

import (
	"context"
	"fmt"
	"time"
)

// ConnHandle identifies a link as assigned by the stack.
type ConnHandle uint16

// Handle is an attribute handle in the stack's attribute table.
type Handle uint16

// EventKind is the kind of inbound stack event.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventWrite
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventWrite:
		return "write"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a connect, disconnect or attribute-write notification from the stack.
// Attr and Data are only meaningful for EventWrite.
type Event struct {
	Kind EventKind
	Conn ConnHandle
	Attr Handle
	Data []byte
}

// EventHandler receives stack events. It is invoked from the stack's own
// context and must return quickly.
type EventHandler func(Event)

// AdvertiseParams describes a broadcast request.
type AdvertiseParams struct {
	Data         []byte        // primary advertising payload
	ScanResponse []byte        // scan response payload
	Interval     time.Duration // advertising interval
	Connectable  bool
}

// Stack is the wireless stack as seen by the peripheral. Implementations must
// not block in ReadAttribute, Advertise or StopAdvertising; those may be called
// from inside an EventHandler.
type Stack interface {
	// RegisterServices adds the service to the attribute table and returns the
	// resulting handle layout. Called once at startup.
	RegisterServices(svc ServiceDef) (Registration, error)

	// ReadAttribute returns the current value stored at handle.
	ReadAttribute(h Handle) ([]byte, error)

	// Notify pushes data as a notification of attribute h to conn. The go-ble
	// implementation can block while the controller has no free ACL buffers;
	// callers on the streaming goroutine tolerate that, event handlers must not
	// call it.
	Notify(conn ConnHandle, h Handle, data []byte) error

	// Advertise requests a broadcast with the given payloads.
	Advertise(ctx context.Context, p AdvertiseParams) error

	// StopAdvertising requests the broadcast to stop. Stopping an inactive
	// broadcast is not an error.
	StopAdvertising() error

	// SetEventHandler installs the event handler, replacing any previous one.
	SetEventHandler(h EventHandler)
}
