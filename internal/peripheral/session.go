package peripheral

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// State is the session state.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the connection.
type Snapshot struct {
	Conn       ConnHandle
	Connected  bool
	Subscribed bool
}

// State derives the session state from the snapshot.
func (s Snapshot) State() State {
	switch {
	case s.Subscribed:
		return StateSubscribed
	case s.Connected:
		return StateConnected
	default:
		return StateIdle
	}
}

const (
	cellConnMask   uint32 = 0xFFFF
	cellConnected  uint32 = 1 << 16
	cellSubscribed uint32 = 1 << 17
	cellGenShift          = 18 // link generation, bumped on every connect
)

// stateCell packs the connection handle, both flags and a link generation into
// one word so that every transition is a single atomic update and readers
// never see a half update. The generation makes a commit against a word
// loaded before a reconnect fail even when the new link reuses the handle.
type stateCell struct {
	v atomic.Uint32
}

func decodeSnapshot(w uint32) Snapshot {
	return Snapshot{
		Conn:       ConnHandle(w & cellConnMask),
		Connected:  w&cellConnected != 0,
		Subscribed: w&cellSubscribed != 0,
	}
}

func (c *stateCell) word() uint32 {
	return c.v.Load()
}

func (c *stateCell) load() Snapshot {
	return decodeSnapshot(c.v.Load())
}

// connect stores a new unsubscribed link and returns the previous state.
func (c *stateCell) connect(conn ConnHandle) Snapshot {
	for {
		w := c.v.Load()
		gen := (w >> cellGenShift) + 1
		next := gen<<cellGenShift | uint32(conn) | cellConnected
		if c.v.CompareAndSwap(w, next) {
			return decodeSnapshot(w)
		}
	}
}

// disconnect clears the link. It reports false if there was none.
func (c *stateCell) disconnect() (Snapshot, bool) {
	for {
		w := c.v.Load()
		if w&cellConnected == 0 {
			return Snapshot{}, false
		}
		if c.v.CompareAndSwap(w, w&^(cellConnMask|cellConnected|cellSubscribed)) {
			return decodeSnapshot(w), true
		}
	}
}

// setSubscribed sets the subscription flag only if the cell still holds w.
func (c *stateCell) setSubscribed(w uint32, on bool) bool {
	next := w &^ cellSubscribed
	if on {
		next |= cellSubscribed
	}
	return c.v.CompareAndSwap(w, next)
}

// Session tracks the single central connection and its subscription, and owns
// the broadcast lifecycle. HandleEvent is the only writer; Snapshot and Gate
// may be called concurrently from the streaming loop.
type Session struct {
	stack   Stack
	handles Handles
	bc      *Broadcaster
	cell    stateCell
	logger  *logrus.Logger
}

// NewSession creates an idle session.
func NewSession(stack Stack, handles Handles, bc *Broadcaster, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Session{
		stack:   stack,
		handles: handles,
		bc:      bc,
		logger:  logger,
	}
}

// Start installs the event handler and makes the device discoverable.
func (s *Session) Start() error {
	s.stack.SetEventHandler(s.HandleEvent)
	return s.bc.Start()
}

// Snapshot returns the current connection view.
func (s *Session) Snapshot() Snapshot {
	return s.cell.load()
}

// Gate returns the connection to notify and whether sending is allowed.
func (s *Session) Gate() (ConnHandle, bool) {
	snap := s.cell.load()
	return snap.Conn, snap.Subscribed
}

// Handles returns the resolved attribute layout.
func (s *Session) Handles() Handles {
	return s.handles
}

// HandleEvent applies a stack event to the state machine.
func (s *Session) HandleEvent(ev Event) {
	switch ev.Kind {
	case EventConnect:
		s.onConnect(ev.Conn)
	case EventDisconnect:
		s.onDisconnect(ev.Conn)
	case EventWrite:
		s.onWrite(ev)
	default:
		s.logger.WithField("kind", ev.Kind).Debug("Ignoring unknown stack event")
	}
}

func (s *Session) onConnect(conn ConnHandle) {
	prev := s.cell.connect(conn)
	if prev.Connected {
		s.logger.WithFields(logrus.Fields{
			"conn":     conn,
			"previous": prev.Conn,
		}).Warn("Connect while already connected, replacing link")
	}
	s.logger.WithField("conn", conn).Info("Central connected")

	if err := s.bc.Stop(); err != nil {
		s.logger.WithError(err).Debug("Stop advertising on connect")
	}
}

func (s *Session) onDisconnect(conn ConnHandle) {
	prev, ok := s.cell.disconnect()
	if !ok {
		s.logger.WithField("conn", conn).Debug("Disconnect while idle, ignoring")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"conn":       conn,
		"subscribed": prev.Subscribed,
	}).Info("Central disconnected")

	if err := s.bc.Start(); err != nil {
		s.logger.WithError(err).Error("Failed to restart advertising, will retry")
	}
}

func (s *Session) onWrite(ev Event) {
	w := s.cell.word()
	prev := decodeSnapshot(w)
	if !prev.Connected {
		s.logger.WithField("attr", ev.Attr).Debug("Write while idle, ignoring")
		return
	}

	if ev.Attr == s.handles.RX {
		s.logger.WithFields(logrus.Fields{
			"conn": ev.Conn,
			"len":  len(ev.Data),
		}).Debug("RX write (reserved)")
	}

	subscribed := s.readSubscription()
	if subscribed == prev.Subscribed {
		return
	}

	// A connect or disconnect that ran during the CCCD read owns the state.
	if !s.cell.setSubscribed(w, subscribed) {
		s.logger.WithField("conn", prev.Conn).Debug("Link changed during CCCD read, write dropped")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"conn":       prev.Conn,
		"subscribed": subscribed,
	}).Info("Subscription changed")
}

// readSubscription reads the CCCD and reports whether the notify bit is set.
// Any read failure or short value counts as not subscribed.
func (s *Session) readSubscription() bool {
	v, err := s.stack.ReadAttribute(s.handles.CCCD)
	if err != nil {
		s.logger.WithError(err).Debug("CCCD read failed, treating as not subscribed")
		return false
	}
	if len(v) < 2 {
		s.logger.WithField("len", len(v)).Debug("Short CCCD value, treating as not subscribed")
		return false
	}
	return v[0]&0x01 != 0
}

// Service is called once per streaming tick. It retries a broadcast that
// failed to restart while the session is idle.
func (s *Session) Service() {
	if !s.bc.Pending() || s.cell.load().Connected {
		return
	}

	if err := s.bc.Start(); err != nil {
		s.logger.WithError(err).Debug("Advertising retry failed")
		return
	}

	// a central may have connected while the request was in flight
	if s.cell.load().Connected {
		if err := s.bc.Stop(); err != nil {
			s.logger.WithError(err).Debug("Stop advertising after retry")
		}
	}
}
