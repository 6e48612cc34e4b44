//go:build unix && !linux

package serial

// SupportedBaudRate always reports false on this platform.
func SupportedBaudRate(baud int) bool {
	return false
}

// Open is a stub for non-Linux platforms; use OpenLoopback instead.
func Open(portName string, baudRate int) (*Port, error) {
	return nil, ErrUnsupported
}
