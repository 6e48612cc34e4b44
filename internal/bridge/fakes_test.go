package bridge

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bigbag/kiss-bridge/internal/poll"
)

const (
	devReadFd  = 10
	devWriteFd = 11
	sockFd     = 20
)

// fakeWaiter reports every requested event as ready, plus any extra events
// registered per descriptor.
type fakeWaiter struct {
	extra    map[int]poll.Event
	blocked  map[int]poll.Event
	sets     [][]poll.Interest
	timeouts []time.Duration
	woken    int
}

func (w *fakeWaiter) Wait(set []poll.Interest, timeout time.Duration) error {
	for i := range set {
		got := set[i].Want &^ w.blocked[set[i].Fd]
		set[i].Got = got | w.extra[set[i].Fd]
	}
	w.sets = append(w.sets, append([]poll.Interest(nil), set...))
	w.timeouts = append(w.timeouts, timeout)
	return nil
}

func (w *fakeWaiter) Wake() error {
	w.woken++
	return nil
}

type fakeDevice struct {
	reads    [][]byte
	readErr  error
	eof      bool
	written  []byte
	limit    int
	writeErr error
}

func (d *fakeDevice) ReadFd() int  { return devReadFd }
func (d *fakeDevice) WriteFd() int { return devWriteFd }

func (d *fakeDevice) Read(p []byte) (int, error) {
	if len(d.reads) > 0 {
		n := copy(p, d.reads[0])
		d.reads = d.reads[1:]
		return n, nil
	}
	if d.readErr != nil {
		return 0, d.readErr
	}
	if d.eof {
		return 0, nil
	}
	return 0, unix.EAGAIN
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	n := len(p)
	if d.limit > 0 && n > d.limit {
		n = d.limit
	}
	d.written = append(d.written, p[:n]...)
	return n, nil
}

type fakeSocket struct {
	incoming [][]byte
	sent     [][]byte
	sendErr  error
}

func (s *fakeSocket) Fd() int { return sockFd }

func (s *fakeSocket) ReadFrom(p []byte) (int, net.Addr, error) {
	if len(s.incoming) == 0 {
		return 0, nil, unix.EAGAIN
	}
	n := copy(p, s.incoming[0])
	s.incoming = s.incoming[1:]
	return n, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5556}, nil
}

func (s *fakeSocket) Send(p []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), p...))
	return nil
}
