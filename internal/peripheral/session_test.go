package peripheral_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/picoimu/internal/peripheral"
	"github.com/srg/picoimu/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

var testHandles = peripheral.Handles{Service: 1, TX: 3, RX: 6, CCCD: 4}

type SessionTestSuite struct {
	suite.Suite

	stack   *mocks.MockStack
	cccd    *mocks.CCCDStore
	bc      *peripheral.Broadcaster
	session *peripheral.Session
}

func (s *SessionTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	s.cccd = &mocks.CCCDStore{Handle: testHandles.CCCD, Value: []byte{0x00, 0x00}}
	s.stack = &mocks.MockStack{}
	s.stack.On("ReadAttribute", mock.Anything).Return(s.cccd.Read)
	s.stack.On("Advertise", mock.Anything, mock.Anything).Return(nil)
	s.stack.On("StopAdvertising").Return(nil)

	s.bc = peripheral.NewBroadcaster(s.stack, peripheral.DeviceName, 0, logger)
	s.session = peripheral.NewSession(s.stack, testHandles, s.bc, logger)
	s.Require().NoError(s.session.Start())
}

func (s *SessionTestSuite) connect(conn peripheral.ConnHandle) {
	s.stack.Emit(peripheral.Event{Kind: peripheral.EventConnect, Conn: conn})
}

func (s *SessionTestSuite) disconnect(conn peripheral.ConnHandle) {
	s.stack.Emit(peripheral.Event{Kind: peripheral.EventDisconnect, Conn: conn})
}

func (s *SessionTestSuite) writeCCCD(conn peripheral.ConnHandle, value []byte) {
	s.cccd.Value = value
	s.stack.Emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: conn, Attr: testHandles.CCCD, Data: value})
}

func (s *SessionTestSuite) TestColdStart() {
	snap := s.session.Snapshot()
	s.Equal(peripheral.StateIdle, snap.State())
	s.Equal(uint64(1), s.bc.Starts(), "broadcast MUST be active after start")

	_, ok := s.session.Gate()
	s.False(ok, "gate MUST block while idle")
}

func (s *SessionTestSuite) TestConnectWithoutSubscription() {
	s.connect(0x40)

	snap := s.session.Snapshot()
	s.Equal(peripheral.StateConnected, snap.State())
	s.Equal(peripheral.ConnHandle(0x40), snap.Conn)
	s.False(snap.Subscribed)

	_, ok := s.session.Gate()
	s.False(ok, "gate MUST block until the central subscribes")
	s.stack.AssertCalled(s.T(), "StopAdvertising")
}

func (s *SessionTestSuite) TestSubscribe() {
	s.connect(0x40)
	s.writeCCCD(0x40, []byte{0x01, 0x00})

	s.Equal(peripheral.StateSubscribed, s.session.Snapshot().State())
	conn, ok := s.session.Gate()
	s.True(ok)
	s.Equal(peripheral.ConnHandle(0x40), conn)
}

func (s *SessionTestSuite) TestUnsubscribe() {
	s.connect(0x40)
	s.writeCCCD(0x40, []byte{0x01, 0x00})
	s.writeCCCD(0x40, []byte{0x00, 0x00})

	s.Equal(peripheral.StateConnected, s.session.Snapshot().State())
}

func (s *SessionTestSuite) TestWriteWithoutNotifyBitStaysConnected() {
	s.connect(0x40)
	s.writeCCCD(0x40, []byte{0x02, 0x00}) // indications only

	s.Equal(peripheral.StateConnected, s.session.Snapshot().State())
}

func (s *SessionTestSuite) TestSubscriptionReadFromAttributeNotPayload() {
	s.connect(0x40)

	// payload claims notifications on, stored CCCD says off
	s.stack.Emit(peripheral.Event{
		Kind: peripheral.EventWrite, Conn: 0x40, Attr: testHandles.CCCD, Data: []byte{0x01, 0x00},
	})
	s.Equal(peripheral.StateConnected, s.session.Snapshot().State())
	s.stack.AssertCalled(s.T(), "ReadAttribute", testHandles.CCCD)
}

func (s *SessionTestSuite) TestRXWriteKeepsState() {
	s.connect(0x40)
	s.writeCCCD(0x40, []byte{0x01, 0x00})

	s.stack.Emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: 0x40, Attr: testHandles.RX, Data: []byte("hello")})
	s.Equal(peripheral.StateSubscribed, s.session.Snapshot().State())
}

func (s *SessionTestSuite) TestMalformedCCCDMeansNotSubscribed() {
	s.connect(0x40)
	s.writeCCCD(0x40, []byte{0x01, 0x00})
	s.writeCCCD(0x40, []byte{0x01})

	s.Equal(peripheral.StateConnected, s.session.Snapshot().State())
}

func (s *SessionTestSuite) TestCCCDReadErrorMeansNotSubscribed() {
	s.connect(0x40)
	s.cccd.Err = errors.New("attribute not found")
	s.writeCCCD(0x40, []byte{0x01, 0x00})

	s.Equal(peripheral.StateConnected, s.session.Snapshot().State())
}

func (s *SessionTestSuite) TestWriteWhileIdleIsIgnored() {
	s.writeCCCD(0x40, []byte{0x01, 0x00})

	s.Equal(peripheral.StateIdle, s.session.Snapshot().State())
	s.stack.AssertNotCalled(s.T(), "ReadAttribute", mock.Anything)
}

func (s *SessionTestSuite) TestDisconnectWhileSubscribed() {
	s.connect(0x40)
	s.writeCCCD(0x40, []byte{0x01, 0x00})
	s.disconnect(0x40)

	snap := s.session.Snapshot()
	s.Equal(peripheral.StateIdle, snap.State())
	s.False(snap.Connected)
	s.False(snap.Subscribed)
	s.Equal(uint64(2), s.bc.Starts(), "broadcast MUST restart on disconnect")

	_, ok := s.session.Gate()
	s.False(ok)
}

func (s *SessionTestSuite) TestDisconnectWhileIdleDoesNotRestartBroadcast() {
	s.disconnect(0x40)
	s.Equal(uint64(1), s.bc.Starts())
}

func (s *SessionTestSuite) TestReconnectClearsSubscription() {
	s.connect(0x40)
	s.writeCCCD(0x40, []byte{0x01, 0x00})

	// a second connect replaces the link; the CCCD is per connection
	s.cccd.Value = []byte{0x00, 0x00}
	s.connect(0x41)

	snap := s.session.Snapshot()
	s.Equal(peripheral.StateConnected, snap.State())
	s.Equal(peripheral.ConnHandle(0x41), snap.Conn)
}

func (s *SessionTestSuite) TestServiceRetriesFailedBroadcast() {
	stack := &mocks.MockStack{}
	stack.On("StopAdvertising").Return(nil)
	stack.On("Advertise", mock.Anything, mock.Anything).Return(nil).Once()
	stack.On("Advertise", mock.Anything, mock.Anything).Return(errors.New("command disallowed")).Once()
	stack.On("Advertise", mock.Anything, mock.Anything).Return(nil).Once()

	bc := peripheral.NewBroadcaster(stack, peripheral.DeviceName, 0, nil)
	session := peripheral.NewSession(stack, testHandles, bc, nil)
	s.Require().NoError(session.Start())

	stack.Emit(peripheral.Event{Kind: peripheral.EventConnect, Conn: 1})
	stack.Emit(peripheral.Event{Kind: peripheral.EventDisconnect, Conn: 1})
	s.True(bc.Pending())
	s.Equal(uint64(1), bc.Starts())

	session.Service()
	s.False(bc.Pending())
	s.Equal(uint64(2), bc.Starts())

	// nothing pending, nothing to do
	session.Service()
	s.Equal(uint64(2), bc.Starts())
	stack.AssertExpectations(s.T())
}

// interruptedStack returns a session whose first CCCD read delivers event
// before returning the notify-enabled value, as a callback preempting the
// write handler would.
func (s *SessionTestSuite) interruptedStack(event peripheral.Event) (*mocks.MockStack, *peripheral.Broadcaster, *peripheral.Session) {
	stack := &mocks.MockStack{}
	stack.On("Advertise", mock.Anything, mock.Anything).Return(nil)
	stack.On("StopAdvertising").Return(nil)

	fired := false
	stack.On("ReadAttribute", testHandles.CCCD).Return(func(peripheral.Handle) ([]byte, error) {
		if !fired {
			fired = true
			stack.Emit(event)
		}
		return []byte{0x01, 0x00}, nil
	})

	bc := peripheral.NewBroadcaster(stack, peripheral.DeviceName, 0, nil)
	session := peripheral.NewSession(stack, testHandles, bc, nil)
	s.Require().NoError(session.Start())
	return stack, bc, session
}

func (s *SessionTestSuite) TestDisconnectDuringCCCDReadWins() {
	stack, bc, session := s.interruptedStack(peripheral.Event{Kind: peripheral.EventDisconnect, Conn: 0x40})

	stack.Emit(peripheral.Event{Kind: peripheral.EventConnect, Conn: 0x40})
	stack.Emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: 0x40, Attr: testHandles.CCCD, Data: []byte{0x01, 0x00}})

	snap := session.Snapshot()
	s.Equal(peripheral.StateIdle, snap.State(), "write MUST NOT revive a link that dropped during the read")
	s.False(snap.Subscribed)
	s.Equal(uint64(2), bc.Starts(), "disconnect MUST restart the broadcast exactly once")

	_, ok := session.Gate()
	s.False(ok)
}

func (s *SessionTestSuite) TestReconnectDuringCCCDReadWins() {
	stack, _, session := s.interruptedStack(peripheral.Event{Kind: peripheral.EventConnect, Conn: 0x51})

	stack.Emit(peripheral.Event{Kind: peripheral.EventConnect, Conn: 0x40})
	stack.Emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: 0x40, Attr: testHandles.CCCD, Data: []byte{0x01, 0x00}})

	snap := session.Snapshot()
	s.Equal(peripheral.StateConnected, snap.State(), "new link starts unsubscribed")
	s.Equal(peripheral.ConnHandle(0x51), snap.Conn)

	// a write on the new link is applied normally
	stack.Emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: 0x51, Attr: testHandles.CCCD, Data: []byte{0x01, 0x00}})
	s.Equal(peripheral.StateSubscribed, session.Snapshot().State())
}

func (s *SessionTestSuite) TestReconnectWithSameHandleDuringCCCDReadWins() {
	stack, _, session := s.interruptedStack(peripheral.Event{Kind: peripheral.EventConnect, Conn: 0x40})

	stack.Emit(peripheral.Event{Kind: peripheral.EventConnect, Conn: 0x40})
	stack.Emit(peripheral.Event{Kind: peripheral.EventWrite, Conn: 0x40, Attr: testHandles.CCCD, Data: []byte{0x01, 0x00}})

	snap := session.Snapshot()
	s.Equal(peripheral.StateConnected, snap.State(), "write from the replaced link MUST NOT subscribe the new one")
	s.Equal(peripheral.ConnHandle(0x40), snap.Conn)
}

// TestRandomEventSequences checks that the subscribed flag is set only after a
// connect followed by a notify-enabling CCCD write with no disconnect in
// between, and that every disconnect transition restarts the broadcast once.
func (s *SessionTestSuite) TestRandomEventSequences() {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		s.SetupTest()

		var (
			connected    bool
			notifyOn     bool
			expectStarts uint64 = 1
		)

		for step := 0; step < 200; step++ {
			switch rng.Intn(5) {
			case 0:
				s.connect(peripheral.ConnHandle(rng.Intn(0x0F00)))
				connected, notifyOn = true, false
				s.cccd.Value = []byte{0x00, 0x00}
			case 1:
				s.disconnect(1)
				if connected {
					expectStarts++
				}
				connected, notifyOn = false, false
			case 2:
				s.writeCCCD(1, []byte{0x01, 0x00})
				notifyOn = connected
			case 3:
				s.writeCCCD(1, []byte{0x00, 0x00})
				notifyOn = false
			case 4:
				s.stack.Emit(peripheral.Event{Kind: peripheral.EventWrite, Attr: testHandles.RX, Data: []byte{0xAA}})
			}

			snap := s.session.Snapshot()
			s.Require().Equal(connected, snap.Connected, "run %d step %d", run, step)
			s.Require().Equal(notifyOn, snap.Subscribed, "run %d step %d", run, step)
			s.Require().False(snap.Subscribed && !snap.Connected, "subscribed without connection")
			s.Require().Equal(expectStarts, s.bc.Starts(), "run %d step %d", run, step)
		}
	}
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
