package mocks

import (
	"context"

	"github.com/srg/picoimu/internal/peripheral"
	"github.com/stretchr/testify/mock"
)

// MockStack is a testify mock of peripheral.Stack. Return values may be given
// either as values or as functions with the method's signature.
type MockStack struct {
	mock.Mock

	handler peripheral.EventHandler
}

func (m *MockStack) RegisterServices(svc peripheral.ServiceDef) (peripheral.Registration, error) {
	args := m.Called(svc)
	if fn, ok := args.Get(0).(func(peripheral.ServiceDef) (peripheral.Registration, error)); ok {
		return fn(svc)
	}
	var reg peripheral.Registration
	if v := args.Get(0); v != nil {
		reg = v.(peripheral.Registration)
	}
	return reg, args.Error(1)
}

func (m *MockStack) ReadAttribute(h peripheral.Handle) ([]byte, error) {
	args := m.Called(h)
	if fn, ok := args.Get(0).(func(peripheral.Handle) ([]byte, error)); ok {
		return fn(h)
	}
	var b []byte
	if v := args.Get(0); v != nil {
		b = v.([]byte)
	}
	return b, args.Error(1)
}

func (m *MockStack) Notify(conn peripheral.ConnHandle, h peripheral.Handle, data []byte) error {
	args := m.Called(conn, h, data)
	if fn, ok := args.Get(0).(func(peripheral.ConnHandle, peripheral.Handle, []byte) error); ok {
		return fn(conn, h, data)
	}
	return args.Error(0)
}

func (m *MockStack) Advertise(ctx context.Context, p peripheral.AdvertiseParams) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockStack) StopAdvertising() error {
	args := m.Called()
	return args.Error(0)
}

// SetEventHandler records the handler so tests can deliver events with Emit.
func (m *MockStack) SetEventHandler(h peripheral.EventHandler) {
	m.handler = h
}

// Emit delivers ev to the installed handler, as the stack's callback would.
func (m *MockStack) Emit(ev peripheral.Event) {
	if m.handler != nil {
		m.handler(ev)
	}
}

// CCCDStore is a settable subscription control value for ReadAttribute mocks.
type CCCDStore struct {
	Handle peripheral.Handle
	Value  []byte
	Err    error
}

// Read implements the ReadAttribute signature for CCCDStore.Handle.
func (c *CCCDStore) Read(h peripheral.Handle) ([]byte, error) {
	if h != c.Handle {
		return nil, peripheral.ErrNotConnected
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return append([]byte(nil), c.Value...), nil
}
