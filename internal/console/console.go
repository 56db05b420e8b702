// Package console mirrors every sensor reading to a local terminal, one line
// per tick, the way the board echoes them on its serial port.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/picoimu/internal/imu"
	"golang.org/x/term"
)

const (
	// DefaultCapacity is the number of lines kept between flushes.
	DefaultCapacity uint32 = 64

	// DefaultFlushInterval is how often queued lines are written out.
	DefaultFlushInterval = 50 * time.Millisecond
)

// LineMode selects how lines are terminated.
type LineMode int

const (
	// LineAuto uses LineCarriageReturn on terminals and LineNewline otherwise.
	LineAuto LineMode = iota
	// LineCarriageReturn rewrites the current line in place.
	LineCarriageReturn
	// LineNewline appends one line per reading.
	LineNewline
)

type entry struct {
	reading    imu.Reading
	subscribed bool
}

// Options configures a Console.
type Options struct {
	Out           io.Writer // defaults to os.Stdout
	Mode          LineMode
	Capacity      uint32        // zero selects DefaultCapacity
	FlushInterval time.Duration // zero selects DefaultFlushInterval
	Logger        *logrus.Logger
}

// Console queues readings from the streaming loop and writes them from its
// own goroutine. Show never blocks; when the writer falls behind the oldest
// lines are overwritten.
type Console struct {
	out    io.Writer
	ring   mpmc.RichOverlappedRingBuffer[entry]
	eol    string
	flush  time.Duration
	logger *logrus.Logger

	live *color.Color
	idle *color.Color

	queued      atomic.Uint64
	overwritten atomic.Uint64
	written     atomic.Uint64
}

// New creates a console.
func New(opts Options) *Console {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	flush := opts.FlushInterval
	if flush <= 0 {
		flush = DefaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	tty := isTerminal(out)
	mode := opts.Mode
	if mode == LineAuto {
		mode = LineNewline
		if tty {
			mode = LineCarriageReturn
		}
	}

	c := &Console{
		out:    out,
		ring:   mpmc.NewOverlappedRingBuffer[entry](capacity),
		eol:    "\n",
		flush:  flush,
		logger: logger,
		live:   color.New(color.FgGreen, color.Bold),
		idle:   color.New(color.FgYellow),
	}
	if mode == LineCarriageReturn {
		c.eol = "\r"
	}
	if tty {
		c.live.EnableColor()
		c.idle.EnableColor()
	} else {
		c.live.DisableColor()
		c.idle.DisableColor()
	}
	return c
}

// Show queues r for display.
func (c *Console) Show(r imu.Reading, subscribed bool) {
	overwrites, err := c.ring.EnqueueM(entry{reading: r, subscribed: subscribed})
	if err != nil {
		c.logger.WithError(err).Debug("Console enqueue failed")
		return
	}
	c.queued.Add(1)
	c.overwritten.Add(uint64(overwrites))
}

// Flush writes all queued lines.
func (c *Console) Flush() error {
	for !c.ring.IsEmpty() {
		e, err := c.ring.Dequeue()
		if err != nil {
			return fmt.Errorf("console dequeue: %w", err)
		}
		if _, err := io.WriteString(c.out, c.format(e)); err != nil {
			return fmt.Errorf("console write: %w", err)
		}
		c.written.Add(1)
	}
	return nil
}

// Run flushes queued lines until ctx is cancelled. A write error stops the
// console; the streaming loop is not affected.
func (c *Console) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.flush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.Flush(); err != nil {
				c.logger.WithError(err).Debug("Console final flush failed")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				c.logger.WithError(err).Warn("Console stopped")
				return err
			}
		}
	}
}

// Stats returns queued, overwritten and written line counts.
func (c *Console) Stats() (queued, overwritten, written uint64) {
	return c.queued.Load(), c.overwritten.Load(), c.written.Load()
}

func (c *Console) format(e entry) string {
	tag := c.idle.Sprint("[idle]")
	if e.subscribed {
		tag = c.live.Sprint("[live]")
	}
	return tag + " " + e.reading.String() + c.eol
}

// isTerminal reports whether w is a terminal. PTYs opened by this package
// count as terminals.
func isTerminal(w io.Writer) bool {
	switch v := w.(type) {
	case *PTY:
		return true
	case *os.File:
		return term.IsTerminal(int(v.Fd()))
	default:
		return false
	}
}
