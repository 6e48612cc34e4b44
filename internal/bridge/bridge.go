// Package bridge moves frames between a byte-oriented serial device and a UDP
// socket. One Bridge runs a single-threaded readiness loop: it waits on both
// descriptors, then performs at most one read or write per ready descriptor,
// passing bytes through the SLIP codec and the two queues.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/bigbag/kiss-bridge/internal/poll"
	"github.com/bigbag/kiss-bridge/internal/queue"
	"github.com/bigbag/kiss-bridge/internal/slip"
)

var (
	// ErrDeviceClosed means the device reached end of stream or hung up.
	ErrDeviceClosed = errors.New("bridge: device closed")
	// ErrDescriptor means the readiness wait reported an error condition on a
	// watched descriptor.
	ErrDescriptor = errors.New("bridge: descriptor error")
	// ErrDevice wraps unexpected read or write failures on the device.
	ErrDevice = errors.New("bridge: device I/O error")
)

// Device is the serial side. Reads and writes must not block; they return
// unix.EAGAIN when the device is not ready.
type Device interface {
	ReadFd() int
	WriteFd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Socket is the datagram side. ReadFrom and Send must not block.
type Socket interface {
	Fd() int
	ReadFrom(p []byte) (int, net.Addr, error)
	Send(p []byte) error
}

// Waiter is the readiness wait. Wake must be safe to call from another
// goroutine while Wait is blocked.
type Waiter interface {
	Wait(set []poll.Interest, timeout time.Duration) error
	Wake() error
}

// Bridge owns all loop state: codec, queues and the partial write cursor.
// Step and Run must be called from one goroutine at a time.
type Bridge struct {
	dev    Device
	sock   Socket
	waiter Waiter
	log    zerolog.Logger

	enc  slip.Encoder
	dec  *slip.Decoder
	emit func([]byte, error)

	outbound *queue.Queue[[]byte]
	inbound  *queue.Queue[[]byte]
	// pending is the unwritten suffix of the buffer being written to the
	// device; nil when nothing is in flight.
	pending []byte

	maxPacket int
	recvBuf   []byte
	readBuf   []byte
	set       []poll.Interest

	timeout   time.Duration
	heartbeat time.Duration
	now       func() time.Time
	lastTx    time.Time
	traffic   func(Direction, int)

	stats Stats
}

// New builds a bridge over dev and sock. Without options it uses queues of
// DefaultQueueCapacity frames that drop the newest, a 64 KiB packet limit and
// a 250ms wait timeout.
func New(dev Device, sock Socket, w Waiter, opts ...Option) *Bridge {
	b := &Bridge{
		dev:       dev,
		sock:      sock,
		waiter:    w,
		log:       zerolog.Nop(),
		maxPacket: DefaultMaxPacket,
		timeout:   DefaultPollTimeout,
		now:       time.Now,
	}
	chunk := DefaultChunkSize
	for _, opt := range opts {
		opt(b, &chunk)
	}
	if b.outbound == nil {
		b.outbound = queue.New[[]byte](DefaultQueueCapacity, queue.DropNewest)
	}
	if b.inbound == nil {
		b.inbound = queue.New[[]byte](DefaultQueueCapacity, queue.DropNewest)
	}
	if b.heartbeat > 0 && (b.timeout < 0 || b.timeout > b.heartbeat) {
		b.timeout = b.heartbeat
	}

	// One spare byte detects datagrams longer than the limit.
	b.recvBuf = make([]byte, b.maxPacket+1)
	b.readBuf = make([]byte, chunk)
	b.dec = slip.NewDecoder(b.maxPacket)
	b.emit = b.onFrame
	b.lastTx = b.now()
	return b
}

// Run steps the loop until a fatal error or until ctx is done. Cancellation
// wakes a blocked wait and is not an error. Run does not return while a wake
// triggered by ctx is still running.
func (b *Bridge) Run(ctx context.Context) error {
	woke := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(woke)
		if err := b.waiter.Wake(); err != nil {
			b.log.Error().Err(err).Msg("failed to wake bridge loop")
		}
	})
	// A wake already in flight must finish before the caller may close the
	// waiter.
	defer func() {
		if !stop() {
			<-woke
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.Step(); err != nil {
			return err
		}
	}
}

// Step runs one loop iteration: wait for readiness, then service the socket
// read, device write, device read and socket write in that order.
func (b *Bridge) Step() error {
	b.maybeHeartbeat()

	b.set = append(b.set[:0],
		poll.Interest{Fd: b.dev.ReadFd(), Want: poll.Readable},
		poll.Interest{Fd: b.sock.Fd(), Want: poll.Readable},
	)
	devWi, sockWi := -1, -1
	if b.pending != nil || !b.outbound.Empty() {
		devWi = len(b.set)
		b.set = append(b.set, poll.Interest{Fd: b.dev.WriteFd(), Want: poll.Writable})
	}
	if !b.inbound.Empty() {
		sockWi = len(b.set)
		b.set = append(b.set, poll.Interest{Fd: b.sock.Fd(), Want: poll.Writable})
	}

	if err := b.waiter.Wait(b.set, b.timeout); err != nil {
		return fmt.Errorf("readiness wait: %w", err)
	}

	for _, in := range b.set {
		if in.Got&poll.Failed != 0 {
			return fmt.Errorf("%w: fd %d reported %s", ErrDescriptor, in.Fd, in.Got)
		}
	}
	if b.set[1].Got&poll.Hangup != 0 {
		return fmt.Errorf("%w: socket fd %d hung up", ErrDescriptor, b.set[1].Fd)
	}
	// A hung-up device may still hold data; the read drains it and then
	// reports the closure.
	devR := b.set[0].Got&(poll.Readable|poll.Hangup) != 0
	sockR := b.set[1].Got&poll.Readable != 0
	devW, sockW := false, false
	if devWi >= 0 {
		got := b.set[devWi].Got
		if got&poll.Hangup != 0 && !devR {
			return fmt.Errorf("%w: write side hung up", ErrDeviceClosed)
		}
		devW = got&poll.Writable != 0
	}
	if sockWi >= 0 {
		sockW = b.set[sockWi].Got&poll.Writable != 0
	}

	if sockR {
		b.readSocket()
	}
	if devW {
		if err := b.writeDevice(); err != nil {
			return err
		}
	}
	if devR {
		if err := b.readDevice(); err != nil {
			return err
		}
	}
	if sockW {
		b.writeSocket()
	}
	return nil
}

func (b *Bridge) readSocket() {
	n, from, err := b.sock.ReadFrom(b.recvBuf)
	if err != nil {
		if !wouldBlock(err) {
			b.stats.ReceiveErrors++
			b.log.Warn().Err(err).Msg("socket receive failed")
		}
		return
	}
	if n > b.maxPacket {
		b.stats.Oversized++
		b.log.Warn().Str("from", addrString(from)).Int("limit", b.maxPacket).Msg("dropping oversized datagram")
		return
	}

	b.stats.DatagramsIn++
	b.log.Info().Int("bytes", n).Str("from", addrString(from)).Msg("packet received from socket")

	frame, err := b.enc.EncodeFrame(make([]byte, 0, n+n/16+2), b.recvBuf[:n])
	if err != nil {
		// Only reachable if the encoder was left open, which Step never does.
		b.log.Error().Err(err).Msg("failed to encode datagram")
		return
	}
	if !b.outbound.Push(frame) {
		b.log.Warn().
			Int("queued", b.outbound.Len()).
			Stringer("policy", b.outbound.Policy()).
			Msg("outbound queue full, frame dropped")
	}
}

func (b *Bridge) writeDevice() error {
	buf := b.pending
	if buf == nil {
		var ok bool
		if buf, ok = b.outbound.Pop(); !ok {
			return nil
		}
		b.stats.FramesToDevice++
	}

	n, err := b.dev.Write(buf)
	if n > 0 {
		b.stats.BytesToDevice += uint64(n)
		b.lastTx = b.now()
		if b.traffic != nil {
			b.traffic(ToDevice, n)
		}
	}
	if n < len(buf) {
		b.pending = buf[n:]
		if n > 0 {
			b.log.Debug().Int("written", n).Int("remaining", len(b.pending)).Msg("short write to device")
		}
	} else {
		b.pending = nil
	}

	if err != nil && !wouldBlock(err) {
		return fmt.Errorf("%w: write: %w", ErrDevice, err)
	}
	return nil
}

func (b *Bridge) readDevice() error {
	n, err := b.dev.Read(b.readBuf)
	if err != nil {
		switch {
		case wouldBlock(err):
			return nil
		case errors.Is(err, unix.EIO):
			// A tty whose other end went away reads as EIO, not EOF.
			return fmt.Errorf("%w: %w", ErrDeviceClosed, err)
		default:
			return fmt.Errorf("%w: read: %w", ErrDevice, err)
		}
	}
	if n == 0 {
		return fmt.Errorf("%w: end of stream", ErrDeviceClosed)
	}

	b.stats.BytesFromDevice += uint64(n)
	if b.traffic != nil {
		b.traffic(FromDevice, n)
	}
	b.dec.Feed(b.readBuf[:n], b.emit)
	return nil
}

func (b *Bridge) onFrame(frame []byte, err error) {
	if err != nil {
		b.stats.InvalidFrames++
		b.log.Warn().Err(err).Msg("discarded invalid frame from device")
		return
	}

	b.stats.FramesFromDevice++
	b.log.Info().Int("bytes", len(frame)).Msg("packet received from serial link")
	if !b.inbound.Push(frame) {
		b.log.Warn().
			Int("queued", b.inbound.Len()).
			Stringer("policy", b.inbound.Policy()).
			Msg("inbound queue full, frame dropped")
	}
}

func (b *Bridge) writeSocket() {
	frame, ok := b.inbound.Pop()
	if !ok {
		return
	}
	if err := b.sock.Send(frame); err != nil {
		b.stats.SendErrors++
		b.log.Warn().Err(err).Int("bytes", len(frame)).Msg("socket send failed, frame dropped")
		return
	}
	b.stats.DatagramsOut++
}

func (b *Bridge) maybeHeartbeat() {
	if b.heartbeat <= 0 || b.pending != nil || !b.outbound.Empty() || b.enc.IsOpen() {
		return
	}
	now := b.now()
	if now.Sub(b.lastTx) < b.heartbeat {
		return
	}
	b.pending = b.enc.Heartbeat(nil)
	b.lastTx = now
	b.stats.Heartbeats++
}

// Pending returns the unwritten remainder of the buffer in flight to the
// device, or nil.
func (b *Bridge) Pending() []byte {
	return b.pending
}

// Queued returns the outbound and inbound queue lengths.
func (b *Bridge) Queued() (outbound, inbound int) {
	return b.outbound.Len(), b.inbound.Len()
}

// Stats returns a snapshot of the counters. Call it from the goroutine
// running the loop or after Run has returned.
func (b *Bridge) Stats() Stats {
	s := b.stats
	s.OutboundDropped = b.outbound.Dropped()
	s.InboundDropped = b.inbound.Dropped()
	return s
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func addrString(a net.Addr) string {
	if a == nil {
		return "unknown"
	}
	return a.String()
}
