// Package goble implements peripheral.Stack on a go-ble HCI device.
//
// go-ble keeps the CCCD of a notifying characteristic internal and reports
// subscriptions by calling the characteristic's notify handler. The adapter
// turns those calls into CCCD values in its own attribute table and emits the
// matching write events, so the session reads the subscription state back at
// TX + 1 exactly as it would on a stack that exposes the descriptor.
package goble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/picoimu/internal/groutine"
	"github.com/srg/picoimu/internal/peripheral"
)

var (
	ErrInvalidHandle     = errors.New("invalid attribute handle")
	ErrAlreadyRegistered = errors.New("services already registered")
	ErrNotConnectable    = errors.New("only connectable advertising is supported")
	ErrClosed            = errors.New("adapter closed")
)

// advQueueLen bounds queued advertising commands.
const advQueueLen = 4

// Options configures an Adapter.
type Options struct {
	Name     string        // GAP device name
	DeviceID int           // hciN
	Interval time.Duration // advertising interval, fixed at device creation
	Logger   *logrus.Logger
}

type advRequest struct {
	stop   bool
	params peripheral.AdvertiseParams
}

// Adapter is a peripheral.Stack backed by go-ble.
type Adapter struct {
	dev     Device
	logger  *logrus.Logger
	table   *attrTable
	handler atomic.Pointer[peripheral.EventHandler]

	mu         sync.Mutex
	registered bool
	connected  bool
	conn       peripheral.ConnHandle
	notifiers  map[peripheral.Handle]ble.Notifier // by value handle

	reqs   chan advRequest
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

// New opens the HCI device and starts the advertising worker.
func New(opts Options) (*Adapter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.Interval <= 0 {
		opts.Interval = peripheral.DefaultAdvertiseInterval
	}

	a := &Adapter{
		logger:    logger,
		table:     newAttrTable(),
		notifiers: make(map[peripheral.Handle]ble.Notifier),
		reqs:      make(chan advRequest, advQueueLen),
		done:      make(chan struct{}),
	}

	dev, err := DeviceFactory(DeviceOptions{
		Name:         opts.Name,
		DeviceID:     opts.DeviceID,
		Interval:     opts.Interval,
		OnConnect:    a.onConnect,
		OnDisconnect: a.onDisconnect,
	})
	if err != nil {
		return nil, err
	}
	a.dev = dev

	a.ctx, a.cancel = context.WithCancel(context.Background())
	groutine.GoRecover(a.ctx, "adv-worker", logger, a.advWorker)

	logger.WithFields(logrus.Fields{
		"name":     opts.Name,
		"device":   fmt.Sprintf("hci%d", opts.DeviceID),
		"interval": opts.Interval,
	}).Info("HCI device opened")
	return a, nil
}

// Layout returns the registration and attribute rows the adapter produces for
// def, without touching a device.
func Layout(def peripheral.ServiceDef) (peripheral.RegisteredService, []Attribute) {
	t := newAttrTable()
	reg := t.addService(def)
	return reg, t.attributes()
}

func (a *Adapter) RegisterServices(def peripheral.ServiceDef) (peripheral.Registration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.registered {
		return nil, ErrAlreadyRegistered
	}

	reg := a.table.addService(def)
	svc := ble.NewService(bleUUID(def.UUID))

	for i, c := range def.Characteristics {
		value := reg.Values[i]
		ch := svc.NewCharacteristic(bleUUID(c.UUID))

		if c.Properties.Has(peripheral.PropRead) {
			ch.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				v, _ := a.table.read(value)
				_, _ = rsp.Write(v)
			}))
		}
		if c.Properties.Has(peripheral.PropWrite) {
			ch.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				a.onWrite(value, req.Data())
			}))
		}
		if c.Properties.Has(peripheral.PropNotify) {
			cccd := value + 1
			ch.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
				a.serveNotify(req, value, cccd, n)
			}))
		}
	}

	if err := a.dev.AddService(svc); err != nil {
		a.table = newAttrTable()
		return nil, fmt.Errorf("failed to add service %s: %w", def.UUID, err)
	}
	a.registered = true

	a.logger.WithFields(logrus.Fields{
		"service": def.UUID,
		"handles": reg.Values,
	}).Debug("Service registered")
	return peripheral.Registration{reg}, nil
}

func (a *Adapter) ReadAttribute(h peripheral.Handle) ([]byte, error) {
	return a.table.read(h)
}

// Notify sends data to conn on the value handle h. The value is also stored
// so that reads of h return the last packet sent.
// The notifier write blocks while the controller is out of ACL buffers.
func (a *Adapter) Notify(conn peripheral.ConnHandle, h peripheral.Handle, data []byte) error {
	attr, ok := a.table.lookup(h)
	if !ok || attr.Kind != AttrValue || !attr.Properties.Has(peripheral.PropNotify) {
		return fmt.Errorf("notify on handle %d: %w", h, ErrInvalidHandle)
	}

	a.mu.Lock()
	if !a.connected || a.conn != conn {
		a.mu.Unlock()
		return peripheral.ErrNotConnected
	}
	n := a.notifiers[h]
	a.mu.Unlock()

	if n == nil {
		return peripheral.ErrNotSubscribed
	}

	a.table.write(h, data)
	if _, err := n.Write(data); err != nil {
		return peripheral.NormalizeError(err)
	}
	return nil
}

// Advertise queues the advertising command. HCI commands are issued by the
// worker so that callers on the HCI event goroutine never wait on the
// controller.
func (a *Adapter) Advertise(ctx context.Context, p peripheral.AdvertiseParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.Connectable {
		return ErrNotConnectable
	}
	if len(p.Data) > peripheral.MaxPayloadLen || len(p.ScanResponse) > peripheral.MaxPayloadLen {
		return peripheral.ErrPayloadTooLong
	}

	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if connected {
		return peripheral.ErrTransportBusy
	}

	return a.enqueue(advRequest{params: p})
}

func (a *Adapter) StopAdvertising() error {
	return a.enqueue(advRequest{stop: true})
}

func (a *Adapter) SetEventHandler(h peripheral.EventHandler) {
	a.handler.Store(&h)
}

// Attributes returns the attribute table in handle order.
func (a *Adapter) Attributes() []Attribute {
	return a.table.attributes()
}

// Close stops the worker and releases the HCI device.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.cancel()
	<-a.done
	if err := a.dev.Stop(); err != nil {
		return fmt.Errorf("failed to stop HCI device: %w", err)
	}
	a.logger.Info("HCI device closed")
	return nil
}

func (a *Adapter) enqueue(r advRequest) error {
	if a.closed.Load() {
		return ErrClosed
	}
	select {
	case a.reqs <- r:
		return nil
	default:
		return peripheral.ErrTransportBusy
	}
}

func (a *Adapter) advWorker(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-a.reqs:
			a.apply(r)
		}
	}
}

func (a *Adapter) apply(r advRequest) {
	if r.stop {
		if err := a.dev.StopAdvertising(); err != nil {
			a.logger.WithError(err).Warn("Failed to stop advertising")
		}
		return
	}

	if err := a.dev.SetAdvertisement(r.params.Data, r.params.ScanResponse); err != nil {
		a.logger.WithError(err).Error("Failed to set advertising data")
		return
	}
	if err := a.dev.Advertise(); err != nil {
		a.logger.WithError(err).Error("Failed to enable advertising")
		return
	}
	a.logger.Debug("Advertising enabled")
}

func (a *Adapter) onConnect(h uint16) {
	a.mu.Lock()
	a.connected = true
	a.conn = peripheral.ConnHandle(h)
	clear(a.notifiers)
	a.mu.Unlock()

	a.resetCCCDs()
	a.emit(peripheral.Event{Kind: peripheral.EventConnect, Conn: peripheral.ConnHandle(h)})
}

func (a *Adapter) onDisconnect(h uint16) {
	a.mu.Lock()
	if !a.connected || a.conn != peripheral.ConnHandle(h) {
		a.mu.Unlock()
		a.logger.WithField("conn", h).Debug("Disconnect for unknown link ignored")
		return
	}
	a.connected = false
	clear(a.notifiers)
	a.mu.Unlock()

	a.resetCCCDs()
	a.emit(peripheral.Event{Kind: peripheral.EventDisconnect, Conn: peripheral.ConnHandle(h)})
}

func (a *Adapter) onWrite(value peripheral.Handle, data []byte) {
	a.mu.Lock()
	conn, connected := a.conn, a.connected
	a.mu.Unlock()
	if !connected {
		return
	}

	a.table.write(value, data)
	a.emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: conn, Attr: value, Data: append([]byte(nil), data...)})
}

// serveNotify runs for the lifetime of one subscription: go-ble calls it when
// the central enables notifications and cancels n's context when they are
// disabled or the link drops. go-ble starts it on its own goroutine, so it may
// run after the link it belongs to has gone and another central connected.
func (a *Adapter) serveNotify(req ble.Request, value, cccd peripheral.Handle, n ble.Notifier) {
	if linkClosed(req, n) {
		a.logger.WithField("attr", value).Debug("Subscription for a closed link ignored")
		return
	}

	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return
	}
	conn := a.conn
	a.notifiers[value] = n
	a.mu.Unlock()

	a.table.write(cccd, cccdOn)
	a.emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: conn, Attr: cccd, Data: cccdOn})

	select {
	case <-n.Context().Done():
	case <-a.ctx.Done():
		return
	}

	a.mu.Lock()
	current := a.notifiers[value] == n
	if current {
		delete(a.notifiers, value)
	}
	a.mu.Unlock()

	// A newer subscription or a disconnect already owns the CCCD.
	if !current {
		return
	}
	a.table.write(cccd, cccdOff)
	a.emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: conn, Attr: cccd, Data: cccdOff})
}

// linkClosed reports whether the link that issued req has already dropped.
func linkClosed(req ble.Request, n ble.Notifier) bool {
	select {
	case <-n.Context().Done():
		return true
	default:
	}

	if req == nil || req.Conn() == nil {
		return false
	}
	if dc, ok := req.Conn().(interface{ Disconnected() <-chan struct{} }); ok {
		select {
		case <-dc.Disconnected():
			return true
		default:
		}
	}
	return false
}

func (a *Adapter) resetCCCDs() {
	for _, attr := range a.table.attributes() {
		if attr.Kind == AttrCCCD {
			a.table.write(attr.Handle, cccdOff)
		}
	}
}

func (a *Adapter) emit(ev peripheral.Event) {
	a.logger.WithFields(logrus.Fields{
		"event": ev.Kind,
		"conn":  ev.Conn,
		"attr":  ev.Attr,
	}).Debug("Stack event")

	if h := a.handler.Load(); h != nil && *h != nil {
		(*h)(ev)
	}
}

// bleUUID converts to go-ble's little-endian UUID representation.
func bleUUID(u uuid.UUID) ble.UUID {
	return ble.UUID(peripheral.ReversedBytes(u))
}
