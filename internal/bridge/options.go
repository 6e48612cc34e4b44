package bridge

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/kiss-bridge/internal/queue"
)

const (
	// DefaultMaxPacket is the largest datagram and decoded frame accepted.
	DefaultMaxPacket = 0x10000
	// DefaultChunkSize is how many bytes one device read may return.
	DefaultChunkSize = 0x10000
	// DefaultPollTimeout bounds one readiness wait.
	DefaultPollTimeout = 250 * time.Millisecond
	// DefaultQueueCapacity is how many frames each direction holds before the
	// queue policy drops one.
	DefaultQueueCapacity = 1024
)

// Direction tells a traffic callback which way bytes moved on the device.
type Direction int

const (
	ToDevice Direction = iota
	FromDevice
)

func (d Direction) String() string {
	if d == ToDevice {
		return "to-device"
	}
	return "from-device"
}

// Option configures a Bridge.
type Option func(b *Bridge, chunk *int)

// WithLogger sets the logger. Per-packet events are logged at info, so a
// logger at warn level gives quiet operation.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge, _ *int) {
		b.log = l
	}
}

// WithMaxPacket sets the receive size for datagrams and the longest frame the
// decoder accepts.
func WithMaxPacket(n int) Option {
	return func(b *Bridge, _ *int) {
		if n > 0 {
			b.maxPacket = n
		}
	}
}

// WithChunkSize sets the largest single device read.
func WithChunkSize(n int) Option {
	return func(_ *Bridge, chunk *int) {
		if n > 0 {
			*chunk = n
		}
	}
}

// WithQueues supplies the outbound (to device) and inbound (to socket)
// queues. The bridge takes ownership of both.
func WithQueues(outbound, inbound *queue.Queue[[]byte]) Option {
	return func(b *Bridge, _ *int) {
		b.outbound = outbound
		b.inbound = inbound
	}
}

// WithPollTimeout bounds each readiness wait. Zero polls without waiting;
// a negative value waits until a descriptor is ready.
func WithPollTimeout(d time.Duration) Option {
	return func(b *Bridge, _ *int) {
		b.timeout = d
	}
}

// WithHeartbeat sends a lone frame delimiter whenever the device has had no
// outgoing bytes for d. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Bridge, _ *int) {
		b.heartbeat = d
	}
}

// WithTraffic registers a callback for every successful device read or write.
func WithTraffic(fn func(dir Direction, n int)) Option {
	return func(b *Bridge, _ *int) {
		b.traffic = fn
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge, _ *int) {
		if now != nil {
			b.now = now
		}
	}
}
