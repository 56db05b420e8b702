// Package stream runs the fixed-cadence sensor streaming loop.
package stream

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/picoimu/internal/imu"
	"github.com/srg/picoimu/internal/packet"
	"github.com/srg/picoimu/internal/peripheral"
)

const (
	// DefaultInterval is the pause between ticks, ~50 packets per second.
	DefaultInterval = 20 * time.Millisecond

	// warnEvery throttles warnings for unexpected send failures.
	warnEvery = time.Second
)

// Gate exposes the session state the loop depends on.
type Gate interface {
	// Gate returns the connection to notify and whether sending is allowed.
	Gate() (peripheral.ConnHandle, bool)
	// Service is the per-tick cooperative hook.
	Service()
}

// Notifier sends notifications; peripheral.Stack satisfies it.
type Notifier interface {
	Notify(conn peripheral.ConnHandle, h peripheral.Handle, data []byte) error
}

// Mirror receives every reading for local display. Show must not block.
type Mirror interface {
	Show(r imu.Reading, subscribed bool)
}

// Outcome is the result of one tick.
type Outcome int

const (
	OutcomeSensorError Outcome = iota
	OutcomeGated
	OutcomeSent
	OutcomeDropped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSensorError:
		return "sensor_error"
	case OutcomeGated:
		return "gated"
	case OutcomeSent:
		return "sent"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats counts tick outcomes.
type Stats struct {
	Ticks        uint64
	Sent         uint64
	Gated        uint64
	Dropped      uint64 // transport busy / not connected / not subscribed
	Failed       uint64 // any other send failure
	SensorErrors uint64
}

// Options configures a Streamer.
type Options struct {
	Sensor   imu.Sensor
	Gate     Gate
	Notifier Notifier
	TX       peripheral.Handle
	Interval time.Duration  // zero selects DefaultInterval
	Mirror   Mirror         // optional
	Logger   *logrus.Logger // optional
}

// Streamer reads, encodes and sends one packet per tick.
type Streamer struct {
	sensor   imu.Sensor
	gate     Gate
	notifier Notifier
	tx       peripheral.Handle
	interval time.Duration
	mirror   Mirror
	logger   *logrus.Logger

	lastWarn time.Time

	ticks, sent, gated, dropped, failed, sensorErrors atomic.Uint64
}

// New creates a Streamer.
func New(opts Options) *Streamer {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Streamer{
		sensor:   opts.Sensor,
		gate:     opts.Gate,
		notifier: opts.Notifier,
		tx:       opts.TX,
		interval: interval,
		mirror:   opts.Mirror,
		logger:   logger,
	}
}

// Tick performs one read-encode-send step. It never returns an error: every
// failure is classified, counted and absorbed.
func (s *Streamer) Tick() Outcome {
	s.ticks.Add(1)

	r, err := s.sensor.Read()
	if err != nil {
		s.sensorErrors.Add(1)
		s.warn(err, "Sensor read failed")
		return OutcomeSensorError
	}

	data := packet.Encode(r)

	conn, ok := s.gate.Gate()
	if s.mirror != nil {
		s.mirror.Show(r, ok)
	}
	if !ok {
		s.gated.Add(1)
		return OutcomeGated
	}

	err = peripheral.NormalizeError(s.notifier.Notify(conn, s.tx, data))
	switch {
	case err == nil:
		s.sent.Add(1)
		return OutcomeSent
	case peripheral.IsTransient(err):
		s.dropped.Add(1)
		s.logger.WithError(err).Debug("Packet dropped")
		return OutcomeDropped
	default:
		s.failed.Add(1)
		s.warn(err, "Notify failed, packet dropped")
		return OutcomeFailed
	}
}

// Run ticks until ctx is cancelled, pausing Interval after each tick.
func (s *Streamer) Run(ctx context.Context) error {
	s.logger.WithField("interval", s.interval).Info("Streaming loop started")

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		s.Tick()
		s.gate.Service()

		timer.Reset(s.interval)
		select {
		case <-ctx.Done():
			st := s.Stats()
			s.logger.WithFields(logrus.Fields{
				"ticks":   st.Ticks,
				"sent":    st.Sent,
				"dropped": st.Dropped,
				"failed":  st.Failed,
			}).Info("Streaming loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Stats returns a copy of the outcome counters.
func (s *Streamer) Stats() Stats {
	return Stats{
		Ticks:        s.ticks.Load(),
		Sent:         s.sent.Load(),
		Gated:        s.gated.Load(),
		Dropped:      s.dropped.Load(),
		Failed:       s.failed.Load(),
		SensorErrors: s.sensorErrors.Load(),
	}
}

// warn logs at most once per warnEvery; the rest go to debug.
func (s *Streamer) warn(err error, msg string) {
	now := time.Now()
	if now.Sub(s.lastWarn) < warnEvery {
		s.logger.WithError(err).Debug(msg)
		return
	}
	s.lastWarn = now
	s.logger.WithError(err).Warn(msg)
}
