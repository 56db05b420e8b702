package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/picoimu/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// DefaultPTYBuffer is the write buffer size of a console PTY.
	DefaultPTYBuffer = 16 * 1024

	ptyPollTimeoutMs = 50
)

// PTY is a pseudo-terminal whose slave side (e.g. /dev/pts/3) can be opened
// with any serial terminal program. Writes go to a ring buffer and are copied
// to the master by a background goroutine, so they never block; when nobody
// reads the slave, bytes are dropped.
type PTY struct {
	master *os.File
	slave  *os.File
	fd     int // master, non-blocking
	name   string
	notify chan struct{}
	buf    *ringbuffer.RingBuffer
	logger *logrus.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Uint64
}

// OpenPTY creates a raw-mode PTY pair and starts its write loop.
func OpenPTY(bufSize int, logger *logrus.Logger) (*PTY, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if bufSize <= 0 {
		bufSize = DefaultPTYBuffer
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY: %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set %s to raw mode: %w", slave.Name(), err)
	}
	fd := int(master.Fd())
	if err := syscall.SetNonblock(fd, true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set PTY master non-blocking: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		master: master,
		slave:  slave,
		fd:     fd,
		name:   slave.Name(),
		notify: make(chan struct{}, 1),
		buf:    ringbuffer.New(bufSize),
		logger: logger,
		cancel: cancel,
	}

	p.wg.Add(1)
	groutine.GoRecover(ctx, "console-pty-write", logger, func(ctx context.Context) {
		defer p.wg.Done()
		p.writeLoop(ctx)
	})

	logger.WithField("tty", p.name).Info("Console PTY opened")
	return p, nil
}

// Name returns the slave device path.
func (p *PTY) Name() string { return p.name }

// Dropped returns the number of bytes discarded because the buffer was full.
func (p *PTY) Dropped() uint64 { return p.dropped.Load() }

// Write queues data. Overflow is not an error: bytes that do not fit are
// counted in Dropped.
func (p *PTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := p.buf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		p.dropped.Add(uint64(len(data) - n))
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return len(data), nil
}

// Close stops the write loop and closes both ends.
func (p *PTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
	}
	return errors.Join(errs...)
}

func (p *PTY) writeLoop(ctx context.Context) {
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
	chunk := make([]byte, 4096)

	for {
		n, err := p.buf.TryRead(chunk)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("Console PTY buffer read failed")
			return
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-p.notify:
			}
			continue
		}

		for off := 0; off < n; {
			w, err := unix.Write(p.fd, chunk[off:n])
			if w > 0 {
				off += w
			}
			switch {
			case err == nil:
			case errors.Is(err, unix.EINTR):
			case errors.Is(err, unix.EAGAIN):
				ready, perr := unix.Poll(pollFd, ptyPollTimeoutMs)
				if perr != nil && !errors.Is(perr, unix.EINTR) {
					p.logger.WithError(perr).Debug("Console PTY poll failed")
				}
				if ready > 0 {
					continue
				}
				// Nobody is draining the slave; drop the rest of this chunk.
				p.dropped.Add(uint64(n - off))
				off = n
				if ctx.Err() != nil {
					return
				}
			default:
				p.logger.WithError(err).Warn("Console PTY write failed")
				return
			}
		}
	}
}
