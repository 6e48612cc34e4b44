//go:build unix

// Package serial opens the character device on the serial side of the bridge.
// Ports are left in non-blocking mode: reads and writes return EAGAIN instead
// of waiting, and readiness is the caller's job.
package serial

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
	"golang.org/x/sys/unix"
)

// ErrUnsupported is returned by Open on platforms without termios support.
var ErrUnsupported = errors.New("serial: raw serial ports are not supported on this platform")

// Port is a non-blocking byte device. A serial line reads and writes through
// one descriptor; a loopback pipe uses two.
type Port struct {
	readFd   int
	writeFd  int
	portName string
	baudRate int
}

// ReadFd returns the descriptor to wait on for readability.
func (p *Port) ReadFd() int {
	return p.readFd
}

// WriteFd returns the descriptor to wait on for writability.
func (p *Port) WriteFd() int {
	return p.writeFd
}

// Read reads whatever is available. It returns unix.EAGAIN when nothing is.
func (p *Port) Read(buf []byte) (int, error) {
	n, err := unix.Read(p.readFd, buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes as much of data as the device accepts right now.
func (p *Port) Write(data []byte) (int, error) {
	n, err := unix.Write(p.writeFd, data)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close closes the port.
func (p *Port) Close() error {
	if p.readFd == p.writeFd {
		return unix.Close(p.readFd)
	}
	return errors.Join(unix.Close(p.readFd), unix.Close(p.writeFd))
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the configured baud rate, 0 for loopback.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// OpenLoopback returns a pipe-backed port: every byte written comes back on
// the read side. The bridge runs against it when no device is configured.
func OpenLoopback() (*Port, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("failed to create loopback pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, fmt.Errorf("failed to set loopback non-blocking: %w", err)
		}
	}
	return &Port{
		readFd:   fds[0],
		writeFd:  fds[1],
		portName: "loopback",
	}, nil
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
