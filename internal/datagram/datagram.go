//go:build unix

// Package datagram is the UDP side of the bridge: a non-blocking socket bound
// to a local address that sends every outgoing datagram to one fixed
// destination.
//
// The socket is driven with raw system calls rather than net.UDPConn so that
// the bridge loop can wait on its descriptor alongside the serial device.
package datagram

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Socket is a bound, non-blocking UDP socket with a fixed destination.
type Socket struct {
	fd     int
	local  *net.UDPAddr
	remote *net.UDPAddr
	dest   unix.Sockaddr
}

// Listen binds to local and targets remote. Both are host:port strings; an
// empty host binds the wildcard address. ttl > 0 sets the multicast hop limit
// of outgoing datagrams.
func Listen(local, remote string, ttl int) (*Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local address %q: %w", local, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve remote address %q: %w", remote, err)
	}

	family := unix.AF_INET
	if is6(laddr.IP) || (laddr.IP == nil && is6(raddr.IP)) {
		family = unix.AF_INET6
	}
	if family == unix.AF_INET && is6(raddr.IP) {
		return nil, fmt.Errorf("remote %s is IPv6 but local %s is IPv4", raddr, laddr)
	}

	bind, err := sockaddr(family, laddr)
	if err != nil {
		return nil, err
	}
	dest, err := sockaddr(family, raddr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := setup(fd, family, ttl, bind); err != nil {
		unix.Close(fd)
		return nil, err
	}

	s := &Socket{fd: fd, remote: raddr, dest: dest}
	if sa, err := unix.Getsockname(fd); err == nil {
		s.local = udpAddr(sa)
	} else {
		s.local = laddr
	}
	return s, nil
}

func setup(fd, family, ttl int, bind unix.Sockaddr) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("failed to set socket non-blocking: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}
	if ttl > 0 {
		var err error
		if family == unix.AF_INET6 {
			err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, ttl)
		} else {
			err = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl)
		}
		if err != nil {
			return fmt.Errorf("failed to set multicast TTL %d: %w", ttl, err)
		}
	}
	if err := unix.Bind(fd, bind); err != nil {
		return fmt.Errorf("failed to bind: %w", err)
	}
	return nil
}

// Fd returns the socket descriptor.
func (s *Socket) Fd() int {
	return s.fd
}

// ReadFrom receives one datagram into p. A datagram longer than p is
// truncated. It returns unix.EAGAIN when nothing is queued.
func (s *Socket) ReadFrom(p []byte) (int, net.Addr, error) {
	n, from, err := unix.Recvfrom(s.fd, p, 0)
	if err != nil {
		return 0, nil, err
	}
	if addr := udpAddr(from); addr != nil {
		return n, addr, nil
	}
	return n, nil, nil
}

// Send transmits p as one datagram to the configured destination.
func (s *Socket) Send(p []byte) error {
	return unix.Sendto(s.fd, p, 0, s.dest)
}

// LocalAddr returns the bound address, with the kernel-chosen port if 0 was
// requested.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.local
}

// Remote returns the destination address.
func (s *Socket) Remote() *net.UDPAddr {
	return s.remote
}

// Close closes the socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

func is6(ip net.IP) bool {
	return ip != nil && ip.To4() == nil
}

func sockaddr(family int, a *net.UDPAddr) (unix.Sockaddr, error) {
	if a.Port < 0 || a.Port > 65535 {
		return nil, errors.New("port out of range: " + strconv.Itoa(a.Port))
	}
	switch family {
	case unix.AF_INET:
		sa := &unix.SockaddrInet4{Port: a.Port}
		if a.IP != nil {
			copy(sa.Addr[:], a.IP.To4())
		}
		return sa, nil
	default:
		sa := &unix.SockaddrInet6{Port: a.Port}
		if a.IP != nil {
			copy(sa.Addr[:], a.IP.To16())
		}
		return sa, nil
	}
}

func udpAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	default:
		return nil
	}
}
