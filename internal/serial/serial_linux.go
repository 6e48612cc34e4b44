//go:build linux

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Baud rate constants
var baudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

// SupportedBaudRate reports whether Open accepts baud.
func SupportedBaudRate(baud int) bool {
	_, ok := baudRates[baud]
	return ok
}

// Open opens a serial device in raw 8N1 mode without flow control, at the
// given baud rate, and leaves it non-blocking.
func Open(portName string, baudRate int) (*Port, error) {
	fd, err := unix.Open(portName, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := configure(fd, baudRate); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to configure port %s: %w", portName, err)
	}

	return &Port{
		readFd:   fd,
		writeFd:  fd,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

func configure(fd, baudRate int) error {
	baudCode, ok := baudRates[baudRate]
	if !ok {
		return fmt.Errorf("unsupported baud rate: %d", baudRate)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr failed: %w", err)
	}

	// Configure for raw mode (like cfmakeraw)
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD

	// 8N1, enable receiver, local mode
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | baudCode
	t.Ispeed = baudCode
	t.Ospeed = baudCode

	// With O_NONBLOCK, VMIN=1 makes an empty read fail with EAGAIN; VMIN=0
	// would return 0, which is indistinguishable from end of stream.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("tcsetattr failed: %w", err)
	}

	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		return fmt.Errorf("tcflush failed: %w", err)
	}
	return nil
}
