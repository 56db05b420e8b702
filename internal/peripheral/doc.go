// Package peripheral implements the BLE peripheral side of the IMU streamer:
// the GATT profile and its handle layout, the discoverable broadcast and the
// single-connection session state machine.
//
// The package does not talk to a radio directly. Everything it needs from the
// wireless stack is expressed by the Stack interface:
//   - connect, disconnect and attribute-write events delivered to a handler
//   - reading an attribute value by handle
//   - sending a notification on an attribute to a connection
//   - starting and stopping a connectable broadcast
//
// The subscription state is derived from the Client Characteristic
// Configuration Descriptor (CCCD) of the TX characteristic. By convention the
// CCCD lives at the TX value handle + 1; Setup verifies this at startup and
// Session re-reads it on every write event.
package peripheral
