// Package poll wraps poll(2) for the bridge loop's readiness wait. A self-pipe
// lets another goroutine interrupt a blocked Wait.
package poll

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Event is a bit set of readiness conditions.
type Event uint8

const (
	Readable Event = 1 << iota
	Writable
	// Hangup: the peer closed its end (POLLHUP).
	Hangup
	// Failed: the descriptor is in an error state or invalid (POLLERR, POLLNVAL).
	Failed
)

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	for _, f := range []struct {
		bit  Event
		name string
	}{{Readable, "readable"}, {Writable, "writable"}, {Hangup, "hangup"}, {Failed, "failed"}} {
		if e&f.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	return s
}

// Interest describes what the caller wants from a descriptor. Wait fills Got.
type Interest struct {
	Fd   int
	Want Event
	Got  Event
}

// ErrClosed is returned by Wait after Close.
var ErrClosed = errors.New("poll: poller closed")

// Poller performs readiness waits.
type Poller struct {
	wakeR, wakeW int
	pfds         []unix.PollFd

	mu     sync.Mutex
	closed bool
}

// New creates a poller and its wake pipe.
func New() (*Poller, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, fmt.Errorf("failed to set wake pipe non-blocking: %w", err)
		}
	}
	return &Poller{wakeR: fds[0], wakeW: fds[1]}, nil
}

// Wait blocks until at least one interest is ready, the timeout elapses or
// Wake is called. A negative timeout waits forever and zero returns
// immediately. On return each Interest's Got holds the events observed for it;
// Hangup and Failed are reported whether or not they were asked for.
//
// An interrupted system call counts as a spurious wakeup, not an error.
func (p *Poller) Wait(set []Interest, timeout time.Duration) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	p.pfds = p.pfds[:0]
	p.pfds = append(p.pfds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	// index maps each interest to its pollfd; interests on one fd share an entry.
	index := make([]int, len(set))
	for i := range set {
		set[i].Got = 0
		slot := -1
		for j := 1; j < len(p.pfds); j++ {
			if int(p.pfds[j].Fd) == set[i].Fd {
				slot = j
				break
			}
		}
		if slot < 0 {
			p.pfds = append(p.pfds, unix.PollFd{Fd: int32(set[i].Fd)})
			slot = len(p.pfds) - 1
		}
		p.pfds[slot].Events |= toPoll(set[i].Want)
		index[i] = slot
	}

	_, err := unix.Poll(p.pfds, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("poll failed: %w", err)
	}

	if p.pfds[0].Revents&unix.POLLIN != 0 {
		p.drain()
	}
	for i := range set {
		got := fromPoll(p.pfds[index[i]].Revents)
		set[i].Got = got & (set[i].Want | Hangup | Failed)
	}
	return nil
}

// Wake interrupts a Wait in progress, or makes the next one return at once.
// It is safe to call from any goroutine, including concurrently with Close.
func (p *Poller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	_, err := unix.Write(p.wakeW, []byte{1})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("failed to wake poller: %w", err)
	}
	return nil
}

// Close releases the wake pipe. Later calls return nil.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return errors.Join(unix.Close(p.wakeR), unix.Close(p.wakeW))
}

func (p *Poller) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func toPoll(e Event) int16 {
	var ev int16
	if e&Readable != 0 {
		ev |= unix.POLLIN
	}
	if e&Writable != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func fromPoll(rev int16) Event {
	var e Event
	if rev&unix.POLLIN != 0 {
		e |= Readable
	}
	if rev&unix.POLLOUT != 0 {
		e |= Writable
	}
	if rev&unix.POLLHUP != 0 {
		e |= Hangup
	}
	if rev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		e |= Failed
	}
	return e
}

func timeoutMillis(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > time.Duration(1<<31-1) {
		return 1<<31 - 1
	}
	return int(ms)
}
